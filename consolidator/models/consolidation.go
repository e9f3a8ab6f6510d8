package models

import (
	"math/big"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/scoring"
	"github.com/shopspring/decimal"
)

// TokenHolding is one token balance the user wants swept
type TokenHolding struct {
	Chain        chains.Chain    `json:"chain,omitempty"`
	TokenAddress string          `json:"address"`
	Symbol       string          `json:"symbol"`
	Decimals     uint8           `json:"decimals"`
	Amount       *big.Int        `json:"amount"` // smallest unit
	ValueUsd     decimal.Decimal `json:"valueUsd"`
}

// SourceRequest lists the balances held on one chain
type SourceRequest struct {
	Chain  chains.Chain   `json:"chain"`
	Tokens []TokenHolding `json:"tokens"`
}

// ConsolidationQuoteRequest - POST body of the quote endpoint
type ConsolidationQuoteRequest struct {
	UserID           string           `json:"userId"`
	UserAddress      string           `json:"userAddress"`
	Sources          []SourceRequest  `json:"sources"`
	DestinationChain chains.Chain     `json:"destinationChain"`
	DestinationToken string           `json:"destinationToken"`
	Priority         scoring.Strategy `json:"priority,omitempty"` // defaults to cost
	SlippageBps      *uint32          `json:"slippageBps,omitempty"`
}

// ConsolidationSource is a chain that survived the dust filter
type ConsolidationSource struct {
	Chain              chains.Chain    `json:"chain"`
	Tokens             []TokenHolding  `json:"tokens"`
	TotalValueUsd      decimal.Decimal `json:"totalValueUsd"`
	EstimatedOutputUsd decimal.Decimal `json:"estimatedOutputUsd"`
	NeedsBridge        bool            `json:"needsBridge"`
}

// SwapLeg converts every token of a chain into the bridge (or destination) token
type SwapLeg struct {
	InputValueUsd  decimal.Decimal `json:"inputValueUsd"`
	OutputToken    string          `json:"outputToken"`
	OutputSymbol   string          `json:"outputSymbol,omitempty"`
	OutputAmount   *big.Int        `json:"outputAmount"`
	MinOutput      *big.Int        `json:"minOutputAmount"`
	OutputValueUsd decimal.Decimal `json:"outputValueUsd"`
	FeeUsd         decimal.Decimal `json:"feeUsd"`
	GasEstimateUsd decimal.Decimal `json:"gasEstimateUsd"`
	// Quotes holds one aggregator quote per swapped token
	Quotes []dex.Quote `json:"quotes"`
	// PassThrough are tokens already equal to OutputToken
	PassThrough []TokenHolding `json:"passThrough,omitempty"`
}

// BridgeLeg moves the swap output to the destination chain
type BridgeLeg struct {
	Provider             string          `json:"provider"`
	Quote                bridges.Quote   `json:"quote"`
	InputAmount          *big.Int        `json:"inputAmount"`
	OutputAmount         *big.Int        `json:"outputAmount"`
	FeeUsd               decimal.Decimal `json:"feeUsd"`
	GasEstimateUsd       decimal.Decimal `json:"gasEstimateUsd"`
	EstimatedTimeSeconds int             `json:"estimatedTimeSeconds"`
}

// ChainConsolidationPlan is the executable plan of one source chain.
// Bridge is nil iff the chain is the destination chain.
type ChainConsolidationPlan struct {
	Chain             chains.Chain    `json:"chain"`
	Swap              SwapLeg         `json:"swap"`
	Bridge            *BridgeLeg      `json:"bridge"`
	GasFeeUsd         decimal.Decimal `json:"gasFeeUsd"`
	TotalFeeUsd       decimal.Decimal `json:"totalFeeUsd"`
	ExpectedOutputUsd decimal.Decimal `json:"expectedOutputUsd"`
	// Priority is the execution order, 0 starts first
	Priority int `json:"priority"`
	// Comparisons are the ranked bridge alternatives the leg was picked from
	Comparisons []bridges.Comparison `json:"comparisons,omitempty"`
}

// EstimatedTimeSeconds is the bridge time, or SwapOnlyTimeSeconds for same chain plans
func (p ChainConsolidationPlan) EstimatedTimeSeconds() int {
	if p.Bridge != nil {
		return p.Bridge.EstimatedTimeSeconds
	}
	return SwapOnlyTimeSeconds
}

// SwapOnlyTimeSeconds is the time budget of a chain that needs no bridge
const SwapOnlyTimeSeconds = 60

// Skip reasons
const (
	SkipNoSwapRoute      = "no swap route"
	SkipNoBridgeRoute    = "no bridge route"
	SkipTimeout          = "timeout"
	SkipUnsupportedChain = "unsupported chain"
	SkipError            = "error"
)

// SkippedChain is a chain that could not be planned
type SkippedChain struct {
	Chain  chains.Chain `json:"chain"`
	Reason string       `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// StrategySummary is what another strategy would have produced from the same quotes
type StrategySummary struct {
	Strategy                  scoring.Strategy        `json:"strategy"`
	TotalFeesUsd              decimal.Decimal         `json:"totalFeesUsd"`
	ExpectedOutputValueUsd    decimal.Decimal         `json:"expectedOutputValueUsd"`
	EstimatedTotalTimeSeconds int                     `json:"estimatedTotalTimeSeconds"`
	Providers                 map[chains.Chain]string `json:"providers"`
}

// ConsolidationPlan is the quote artifact. It is immutable once returned and
// executable only while now < ExpiresAt.
type ConsolidationPlan struct {
	ID                        string                   `json:"id"`
	UserID                    string                   `json:"userId"`
	UserAddress               string                   `json:"userAddress"`
	Sources                   []ConsolidationSource    `json:"sources"`
	ChainPlans                []ChainConsolidationPlan `json:"chainPlans"`
	DestinationChain          chains.Chain             `json:"destinationChain"`
	DestinationToken          string                   `json:"destinationToken"`
	TotalInputValueUsd        decimal.Decimal          `json:"totalInputValueUsd"`
	TotalSwapFeesUsd          decimal.Decimal          `json:"totalSwapFeesUsd"`
	TotalBridgeFeesUsd        decimal.Decimal          `json:"totalBridgeFeesUsd"`
	TotalGasFeesUsd           decimal.Decimal          `json:"totalGasFeesUsd"`
	TotalFeesUsd              decimal.Decimal          `json:"totalFeesUsd"`
	ExpectedOutputValueUsd    decimal.Decimal          `json:"expectedOutputValueUsd"`
	FeePercentage             decimal.Decimal          `json:"feePercentage"`
	EstimatedTotalTimeSeconds int                      `json:"estimatedTotalTimeSeconds"`
	CreatedAt                 time.Time                `json:"createdAt"`
	ExpiresAt                 time.Time                `json:"expiresAt"`
	OptimizationStrategy      scoring.Strategy         `json:"optimizationStrategy"`
	SlippageBps               uint32                   `json:"slippageBps"`
	AlternativeStrategies     []StrategySummary        `json:"alternativeStrategies,omitempty"`
	Skipped                   []SkippedChain           `json:"skipped,omitempty"`
	Warnings                  []string                 `json:"warnings,omitempty"`
}

// Expired reports whether the plan can no longer be executed at now
func (p *ConsolidationPlan) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// ChainPlan returns the plan of one chain
func (p *ConsolidationPlan) ChainPlan(chain chains.Chain) (ChainConsolidationPlan, bool) {
	for _, cp := range p.ChainPlans {
		if cp.Chain == chain {
			return cp, true
		}
	}
	return ChainConsolidationPlan{}, false
}

// ChainSimulation is the dry run result of one chain
type ChainSimulation struct {
	Chain              chains.Chain    `json:"chain"`
	CanSwap            bool            `json:"canSwap"`
	CanBridge          bool            `json:"canBridge"`
	EstimatedOutputUsd decimal.Decimal `json:"estimatedOutputUsd"`
	Errors             []string        `json:"errors"`
}

// Simulation previews a consolidation without storing a plan
type Simulation struct {
	Chains                 []ChainSimulation `json:"chains"`
	TotalExpectedOutputUsd decimal.Decimal   `json:"totalExpectedOutputUsd"`
	AllRoutesAvailable     bool              `json:"allRoutesAvailable"`
}
