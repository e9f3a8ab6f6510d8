// Package jupiter integrates the Jupiter swap aggregator on Solana.
package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/upstream"
	"github.com/rs/zerolog"
)

const (
	// Name is the aggregator identifier
	Name = "jupiter"
	// DefaultAPIURL is the Jupiter v6 quote API
	DefaultAPIURL = "https://quote-api.jup.ag/v6"
	// NativeMint is wrapped SOL
	NativeMint = "So11111111111111111111111111111111111111112"
)

// base fee of a Solana transaction in lamports
const baseFeeLamports = 5000

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "dex-jupiter").Logger()
}

type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	InAmount             string `json:"inAmount"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	RoutePlan            []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
		Percent int `json:"percent"`
	} `json:"routePlan"`
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// Config for the Jupiter adapter
type Config struct {
	APIURL     string
	Timeout    time.Duration
	Limits     *ratelimit.Registry
	HTTPClient *http.Client
	Now        func() time.Time
}

// Aggregator implements dex.Aggregator for Jupiter
type Aggregator struct {
	client *upstream.Client
	now    func() time.Time
}

// New creates the adapter
func New(cfg Config) *Aggregator {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		client: upstream.New(upstream.Config{
			Name:       Name,
			BaseURL:    cfg.APIURL,
			Timeout:    cfg.Timeout,
			Limits:     cfg.Limits,
			HTTPClient: cfg.HTTPClient,
		}),
		now: cfg.Now,
	}
}

// Name implements dex.Aggregator
func (a *Aggregator) Name() string {
	return Name
}

// SupportsChain is true only for Solana
func (a *Aggregator) SupportsChain(chain chains.Chain) bool {
	return chain == chains.Solana
}

func normalizeMint(address string) string {
	switch strings.ToLower(address) {
	case "sol", "native", "11111111111111111111111111111111":
		return NativeMint
	}
	return address
}

// GetQuote calls /quote and, when calldata is requested, /swap for the serialized
// versioned transaction.
func (a *Aggregator) GetQuote(ctx context.Context, req dex.QuoteRequest) (*dex.Quote, error) {
	if !a.SupportsChain(req.Chain) || req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, nil
	}
	slippageBps := req.SlippageBps
	if slippageBps == 0 {
		slippageBps = dex.DefaultSlippageBps
	}

	query := url.Values{}
	query.Set("inputMint", normalizeMint(req.TokenIn))
	query.Set("outputMint", normalizeMint(req.TokenOut))
	query.Set("amount", req.Amount.String())
	query.Set("slippageBps", strconv.FormatUint(uint64(slippageBps), 10))
	query.Set("onlyDirectRoutes", "false")
	query.Set("asLegacyTransaction", "false")
	query.Set("maxAccounts", "64")

	raw, err := a.client.Get(ctx, req.Chain, "/quote", query)
	if err != nil {
		if upstream.IsClientError(err) {
			log.Debug().Err(err).Str("token", req.TokenIn).Msg("No swap route")
			return nil, nil
		}
		return nil, err
	}
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: failed to parse quote: %w", err)
	}

	out, ok := new(big.Int).SetString(resp.OutAmount, 10)
	if !ok || out.Sign() <= 0 {
		return nil, nil
	}
	minOut, ok := new(big.Int).SetString(resp.OtherAmountThreshold, 10)
	if !ok {
		minOut = dex.CalculateMinOutput(out, slippageBps)
	}
	impact, err := dex.PriceImpactBps(resp.PriceImpactPct)
	if err != nil {
		return nil, fmt.Errorf("jupiter: %w", err)
	}

	quote := &dex.Quote{
		Aggregator:      Name,
		Chain:           req.Chain,
		TokenIn:         req.TokenIn,
		TokenOut:        req.TokenOut,
		AmountIn:        new(big.Int).Set(req.Amount),
		AmountOut:       out,
		MinAmountOut:    minOut,
		PriceImpactBps:  impact,
		EstimatedGas:    baseFeeLamports,
		EstimatedGasUsd: chains.GasEstimateUsd(chains.Solana),
		ExpiresAt:       a.now().Add(dex.QuoteTTL),
	}

	if req.IncludeCalldata {
		var swap swapResponse
		err := a.client.PostJSON(ctx, req.Chain, "/swap", swapRequest{
			QuoteResponse:             raw,
			UserPublicKey:             req.From,
			WrapAndUnwrapSol:          true,
			DynamicComputeUnitLimit:   true,
			PrioritizationFeeLamports: "auto",
		}, &swap)
		if err != nil {
			return nil, err
		}
		tx, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
		if err != nil {
			return nil, fmt.Errorf("jupiter: invalid swap transaction: %w", err)
		}
		quote.Calldata = tx
	}
	return quote, nil
}

// BuildCalldata returns the serialized versioned transaction
func (a *Aggregator) BuildCalldata(quote dex.Quote) ([]byte, error) {
	if !quote.HasCalldata() {
		return nil, dex.ErrCalldataNotIncluded
	}
	return append([]byte(nil), quote.Calldata...), nil
}
