// Package oneinch integrates the 1inch swap aggregation API for EVM chains.
package oneinch

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/upstream"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// Name is the aggregator identifier
	Name = "1inch"
	// DefaultAPIURL is the 1inch developer portal gateway
	DefaultAPIURL = "https://api.1inch.dev"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "dex-1inch").Logger()
}

// typical gas of an aggregated swap, used when the API omits it
const defaultSwapGas = 250_000

type quoteResponse struct {
	DstAmount string `json:"dstAmount"`
	Gas       uint64 `json:"gas"`
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   uint64 `json:"gas"`
	} `json:"tx"`
}

// Config for the 1inch adapter
type Config struct {
	APIURL     string
	APIKey     string
	Timeout    time.Duration
	Limits     *ratelimit.Registry
	HTTPClient *http.Client
	Now        func() time.Time
}

// Aggregator implements dex.Aggregator for 1inch
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
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Aggregator{
		client: upstream.New(upstream.Config{
			Name:       Name,
			BaseURL:    cfg.APIURL,
			Timeout:    cfg.Timeout,
			Headers:    headers,
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

// SupportsChain is true for every EVM chain in the registry
func (a *Aggregator) SupportsChain(chain chains.Chain) bool {
	_, err := chains.ChainID(chain)
	return err == nil
}

// GetQuote hits /quote, or /swap when calldata is requested
func (a *Aggregator) GetQuote(ctx context.Context, req dex.QuoteRequest) (*dex.Quote, error) {
	chainID, err := chains.ChainID(req.Chain)
	if err != nil {
		return nil, nil
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, nil
	}
	slippageBps := req.SlippageBps
	if slippageBps == 0 {
		slippageBps = dex.DefaultSlippageBps
	}

	query := url.Values{}
	query.Set("src", req.TokenIn)
	query.Set("dst", req.TokenOut)
	query.Set("amount", req.Amount.String())

	base := fmt.Sprintf("/swap/v6.0/%d", chainID)
	quote := &dex.Quote{
		Aggregator: Name,
		Chain:      req.Chain,
		TokenIn:    req.TokenIn,
		TokenOut:   req.TokenOut,
		AmountIn:   new(big.Int).Set(req.Amount),
		ExpiresAt:  a.now().Add(dex.QuoteTTL),
	}

	var amountOut string
	if req.IncludeCalldata {
		query.Set("from", req.From)
		// 1inch takes slippage in percent
		query.Set("slippage", decimal.New(int64(slippageBps), -2).String())
		query.Set("disableEstimate", "true")

		var resp swapResponse
		if err := a.client.GetJSON(ctx, req.Chain, base+"/swap", query, &resp); err != nil {
			return noRoute(req, err)
		}
		data, err := hexutil.Decode(resp.Tx.Data)
		if err != nil {
			return nil, fmt.Errorf("1inch: invalid calldata: %w", err)
		}
		value := new(big.Int)
		if resp.Tx.Value != "" {
			if _, ok := value.SetString(resp.Tx.Value, 10); !ok {
				return nil, fmt.Errorf("1inch: invalid tx value %q", resp.Tx.Value)
			}
		}
		amountOut = resp.DstAmount
		quote.Router = resp.Tx.To
		quote.Calldata = data
		quote.Value = value
		quote.EstimatedGas = resp.Tx.Gas
	} else {
		query.Set("includeGas", "true")
		var resp quoteResponse
		if err := a.client.GetJSON(ctx, req.Chain, base+"/quote", query, &resp); err != nil {
			return noRoute(req, err)
		}
		amountOut = resp.DstAmount
		quote.EstimatedGas = resp.Gas
	}

	out, ok := new(big.Int).SetString(amountOut, 10)
	if !ok || out.Sign() <= 0 {
		return nil, nil
	}
	if quote.EstimatedGas == 0 {
		quote.EstimatedGas = defaultSwapGas
	}
	quote.AmountOut = out
	quote.MinAmountOut = dex.CalculateMinOutput(out, slippageBps)
	quote.EstimatedGasUsd = chains.GasEstimateUsd(req.Chain)
	return quote, nil
}

// noRoute turns 4xx answers (unknown pair, insufficient liquidity) into "no quote"
func noRoute(req dex.QuoteRequest, err error) (*dex.Quote, error) {
	if upstream.IsClientError(err) {
		log.Debug().Err(err).Str("chain", string(req.Chain)).Str("token", req.TokenIn).Msg("No swap route")
		return nil, nil
	}
	return nil, err
}

// BuildCalldata implements dex.Aggregator
func (a *Aggregator) BuildCalldata(quote dex.Quote) ([]byte, error) {
	if !quote.HasCalldata() {
		return nil, dex.ErrCalldataNotIncluded
	}
	return append([]byte(nil), quote.Calldata...), nil
}
