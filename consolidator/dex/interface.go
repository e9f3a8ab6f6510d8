// Package dex defines the contract every DEX aggregator integration implements.
// Each supported chain family (EVM, Solana) has an aggregator in a sub package.
package dex

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/shopspring/decimal"
)

// QuoteTTL is how long an aggregator quote stays executable
const QuoteTTL = 30 * time.Second

// DefaultSlippageBps is 1%, dust tokens tend to have thin liquidity
const DefaultSlippageBps uint32 = 100

var (
	// ErrCalldataNotIncluded is returned by BuildCalldata for quotes requested without calldata.
	// Re-quote with IncludeCalldata set.
	ErrCalldataNotIncluded = errors.New("quote has no calldata, re-quote with calldata")
	// ErrUnknownAggregator is returned for unregistered aggregator names
	ErrUnknownAggregator = errors.New("unknown dex aggregator")
)

// Aggregator queries one DEX aggregator for swap routes.
type Aggregator interface {
	// Name returns the aggregator identifier (e.g. "1inch")
	Name() string

	// SupportsChain reports whether the aggregator routes swaps on chain
	SupportsChain(chain chains.Chain) bool

	// GetQuote returns nil, nil when no route exists for the pair
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)

	// BuildCalldata returns the transaction data of a quote obtained with IncludeCalldata
	BuildCalldata(quote Quote) ([]byte, error)
}

// QuoteRequest asks for a swap of Amount TokenIn into TokenOut on Chain
type QuoteRequest struct {
	Chain    chains.Chain
	TokenIn  string
	TokenOut string
	Amount   *big.Int
	// From is the account that will execute the swap
	From string
	// SlippageBps of 0 uses DefaultSlippageBps
	SlippageBps uint32
	// IncludeCalldata asks the aggregator for executable transaction data
	IncludeCalldata bool
}

// Quote is a normalised aggregator quote
type Quote struct {
	Aggregator   string       `json:"aggregator"`
	Chain        chains.Chain `json:"chain"`
	TokenIn      string       `json:"tokenIn"`
	TokenOut     string       `json:"tokenOut"`
	AmountIn     *big.Int     `json:"amountIn"`
	AmountOut    *big.Int     `json:"amountOut"`
	MinAmountOut *big.Int     `json:"minAmountOut"`
	// PriceImpactBps is the price impact in basis points
	PriceImpactBps  uint32          `json:"priceImpactBps"`
	EstimatedGas    uint64          `json:"estimatedGas"`
	EstimatedGasUsd decimal.Decimal `json:"estimatedGasUsd"`
	// Router is the contract (EVM) that receives the swap transaction
	Router    string    `json:"router,omitempty"`
	Calldata  []byte    `json:"calldata,omitempty"`
	Value     *big.Int  `json:"value,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HasCalldata reports whether the quote can be submitted as is
func (q Quote) HasCalldata() bool {
	return len(q.Calldata) > 0
}

// Clone returns a copy sharing no mutable state with q
func (q Quote) Clone() Quote {
	out := q
	out.AmountIn = cloneInt(q.AmountIn)
	out.AmountOut = cloneInt(q.AmountOut)
	out.MinAmountOut = cloneInt(q.MinAmountOut)
	out.Value = cloneInt(q.Value)
	if q.Calldata != nil {
		out.Calldata = append([]byte(nil), q.Calldata...)
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
