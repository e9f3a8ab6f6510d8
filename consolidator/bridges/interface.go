// Package bridges defines the contract every cross-chain bridge integration implements
// and the pieces they share: quote cache, HTTP transport and status normalisation.
// Concrete providers live in sub packages (across, stargate, cbridge, hop, socket).
package bridges

import (
	"context"
	"math/big"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/shopspring/decimal"
)

// Provider is a single bridge integration.
type Provider interface {
	// Name returns the provider identifier (e.g. "across")
	Name() string

	// SupportsRoute reports whether the provider can move token from sourceChain to destChain.
	// An error means the answer is unknown (lookup failed), not that the route is unsupported.
	SupportsRoute(ctx context.Context, sourceChain, destChain chains.Chain, token string) (bool, error)

	// GetQuote returns nil, nil when the provider cannot service the request
	// (unsupported route, amount below minimum). Callers try another provider.
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)

	// GetStatus looks up a transfer by source tx hash or deposit id.
	// Transfers the provider does not know about yet are reported as StatusPending.
	GetStatus(ctx context.Context, txHashOrDepositID string, sourceChain chains.Chain) (*Receipt, error)

	// BuildTransaction encodes the source chain transaction for a quote this provider issued
	BuildTransaction(ctx context.Context, quote Quote, sender, recipient string) (*TxRequest, error)
}

// QuoteRequest asks a provider to bridge Amount of SourceToken
type QuoteRequest struct {
	SourceChain      chains.Chain
	DestinationChain chains.Chain
	SourceToken      string
	DestinationToken string
	Amount           *big.Int
	Sender           string
	Recipient        string
	// SlippageBps is applied to the minimum output, 0 uses DefaultSlippageBps
	SlippageBps uint32
}

// DefaultSlippageBps is 0.5%
const DefaultSlippageBps uint32 = 50

// QuoteTTL is how long an issued bridge quote is honoured
const QuoteTTL = 5 * time.Minute

// Fees are denominated in the source token's smallest unit
type Fees struct {
	BridgeFee  *big.Int `json:"bridgeFee"`
	GasFee     *big.Int `json:"gasFee"`
	RelayerFee *big.Int `json:"relayerFee"`
}

// Total returns the sum of all fee components
func (f Fees) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{f.BridgeFee, f.GasFee, f.RelayerFee} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// Quote is a normalised bridge quote
type Quote struct {
	ID                   string       `json:"id"`
	Provider             string       `json:"provider"`
	SourceChain          chains.Chain `json:"sourceChain"`
	DestinationChain     chains.Chain `json:"destinationChain"`
	SourceToken          string       `json:"sourceToken"`
	DestinationToken     string       `json:"destinationToken"`
	InputAmount          *big.Int     `json:"inputAmount"`
	OutputAmount         *big.Int     `json:"outputAmount"`
	MinOutputAmount      *big.Int     `json:"minOutputAmount"`
	Fees                 Fees         `json:"fees"`
	EstimatedTimeSeconds int          `json:"estimatedTimeSeconds"`
	FastFill             bool         `json:"fastFill,omitempty"`
	// Contract is the spender/entry point on the source chain
	Contract  string    `json:"contract,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Extra carries provider specific values BuildTransaction needs (pool ids, timestamps)
	Extra map[string]string `json:"extra,omitempty"`
}

// Receipt is the normalised state of a bridge transfer
type Receipt struct {
	Provider          string       `json:"provider"`
	Status            Status       `json:"status"`
	SourceTxHash      string       `json:"sourceTxHash"`
	SourceChain       chains.Chain `json:"sourceChain"`
	DestinationTxHash string       `json:"destinationTxHash,omitempty"`
	DestinationChain  chains.Chain `json:"destinationChain,omitempty"`
	InputAmount       *big.Int     `json:"inputAmount,omitempty"`
	OutputAmount      *big.Int     `json:"outputAmount,omitempty"`
	DepositID         string       `json:"depositId,omitempty"`
	Message           string       `json:"message,omitempty"`
	CheckedAt         time.Time    `json:"checkedAt"`
}

// Approval is an ERC20 allowance the sender must grant before the transfer
type Approval struct {
	Token   string   `json:"token"`
	Spender string   `json:"spender"`
	Amount  *big.Int `json:"amount"`
}

// TxRequest is an unsigned source chain transaction
type TxRequest struct {
	Chain    chains.Chain `json:"chain"`
	To       string       `json:"to"`
	Data     []byte       `json:"data"`
	Value    *big.Int     `json:"value"`
	GasLimit uint64       `json:"gasLimit"`
	Approval *Approval    `json:"approval,omitempty"`
}

// Comparison is one ranked provider quote for a route
type Comparison struct {
	Provider             string          `json:"provider"`
	Quote                Quote           `json:"quote"`
	NetOutput            *big.Int        `json:"netOutput"`
	NetOutputUsd         decimal.Decimal `json:"netOutputUsd"`
	FeeUsd               decimal.Decimal `json:"feeUsd"`
	EstimatedTimeSeconds int             `json:"estimatedTimeSeconds"`
	Reliability          int             `json:"reliability"`
	Score                decimal.Decimal `json:"score"`
}
