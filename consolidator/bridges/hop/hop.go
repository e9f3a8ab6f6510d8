// Package hop integrates Hop Protocol bonder bridging.
package hop

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/upstream"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Name is the provider identifier
const Name = "hop"

// DefaultAPIURL is the public Hop API
const DefaultAPIURL = "https://api.hop.exchange/v1"

const (
	transferSeconds = 180
	sendGasLimit    = 300_000
	deadlineSec     = 1800
	// extra time the destination AMM swap is allowed after the source deadline
	destinationGraceSec = 3600
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "bridge-hop").Logger()
}

// Hop API chain slugs
var slugs = map[chains.Chain]string{
	chains.Ethereum: "ethereum",
	chains.Arbitrum: "arbitrum",
	chains.Optimism: "optimism",
	chains.Polygon:  "polygon",
}

// Per chain and token Hop entry point. Ethereum holds the L1_Bridge, L2s the L2_AmmWrapper.
var bridgeContracts = map[chains.Chain]map[string]string{
	chains.Ethereum: {
		"ETH":  "0xb8901acB165ed027E32754E0FFe830802919727f",
		"USDC": "0x3666f603Cc164936C1b87e207F36BEBa4AC5f18a",
	},
	chains.Arbitrum: {
		"ETH":  "0x33ceb27b39d2Bb7D2e61F7564d3Df29344020417",
		"USDC": "0xe22D2beDb3Eca35E6397e0C6D62857094aA26F52",
	},
	chains.Optimism: {
		"ETH":  "0x86cA30bEF97fB651b8d866D45503684b90cb3312",
		"USDC": "0x2ad09850b0CA4c7c1B33f5AcD6cBAbCFB1dEa0d3",
	},
	chains.Polygon: {
		"ETH":  "0xb98454270065A31D71Bf635F6F7Ee6A518dFb849",
		"USDC": "0x76b22b8C1079A44F1211c807996254e9F1d0c1ea",
	},
}

const bridgeABI = `[
{"type":"function","name":"sendToL2","stateMutability":"payable","inputs":[
{"name":"chainId","type":"uint256"},
{"name":"recipient","type":"address"},
{"name":"amount","type":"uint256"},
{"name":"amountOutMin","type":"uint256"},
{"name":"deadline","type":"uint256"},
{"name":"relayer","type":"address"},
{"name":"relayerFee","type":"uint256"}],"outputs":[]},
{"type":"function","name":"swapAndSend","stateMutability":"payable","inputs":[
{"name":"chainId","type":"uint256"},
{"name":"recipient","type":"address"},
{"name":"amount","type":"uint256"},
{"name":"bonderFee","type":"uint256"},
{"name":"amountOutMin","type":"uint256"},
{"name":"deadline","type":"uint256"},
{"name":"destinationAmountOutMin","type":"uint256"},
{"name":"destinationDeadline","type":"uint256"}],"outputs":[]}]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		panic(fmt.Sprintf("hop: invalid bridge abi: %v", err))
	}
	return parsed
}()

type quoteResponse struct {
	AmountOut        string `json:"amountOut"`
	AmountOutMin     string `json:"amountOutMin"`
	BonderFee        string `json:"bonderFee"`
	DestinationTxFee string `json:"destinationTxFee"`
	Deadline         int64  `json:"deadline"`
}

type transferStatusResponse struct {
	TransferID          string `json:"transferId"`
	TransactionHash     string `json:"transactionHash"`
	SourceChainID       uint64 `json:"sourceChainId"`
	DestinationChainID  uint64 `json:"destinationChainId"`
	Amount              string `json:"amount"`
	BonderFee           string `json:"bonderFee"`
	BondTransactionHash string `json:"bondTransactionHash"`
	Bonded              bool   `json:"bonded"`
}

// Config for the Hop adapter
type Config struct {
	APIURL     string
	Timeout    time.Duration
	Limits     *ratelimit.Registry
	HTTPClient *http.Client
	Now        bridges.Clock
}

// Provider implements bridges.Provider for Hop
type Provider struct {
	client *upstream.Client
	quotes *bridges.Cache[bridges.Quote]
	now    bridges.Clock
}

// New creates the adapter
func New(cfg Config) *Provider {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		client: upstream.New(upstream.Config{
			Name:       Name,
			BaseURL:    cfg.APIURL,
			Timeout:    cfg.Timeout,
			Limits:     cfg.Limits,
			HTTPClient: cfg.HTTPClient,
		}),
		quotes: bridges.NewCache[bridges.Quote](bridges.DefaultQuoteCacheTTL, now),
		now:    now,
	}
}

// Name implements bridges.Provider
func (p *Provider) Name() string {
	return Name
}

// symbol maps a token to the Hop asset symbol. Hop moves native ETH, not WETH.
func symbol(chain chains.Chain, token string) (string, bool) {
	if chains.SameAddress(token, chains.NativeTokenAddress) {
		return "ETH", true
	}
	t, ok := chains.IntermediateByAddress(chain, token)
	if !ok || t.Symbol != "USDC" {
		return "", false
	}
	return t.Symbol, true
}

func contractFor(chain chains.Chain, sym string) (string, bool) {
	c, ok := bridgeContracts[chain][sym]
	return c, ok
}

// SupportsRoute is answered from the static deployment table
func (p *Provider) SupportsRoute(_ context.Context, src, dst chains.Chain, token string) (bool, error) {
	sym, ok := symbol(src, token)
	if !ok {
		return false, nil
	}
	_, srcOK := contractFor(src, sym)
	_, dstOK := contractFor(dst, sym)
	return srcOK && dstOK && src != dst, nil
}

// GetQuote asks /quote for the bonder fee and expected output
func (p *Provider) GetQuote(ctx context.Context, req bridges.QuoteRequest) (*bridges.Quote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, nil
	}
	ok, _ := p.SupportsRoute(ctx, req.SourceChain, req.DestinationChain, req.SourceToken)
	if !ok {
		return nil, nil
	}
	sym, _ := symbol(req.SourceChain, req.SourceToken)
	contract, _ := contractFor(req.SourceChain, sym)

	cacheKey := bridges.QuoteKey(Name, req)
	if cached, ok := p.quotes.Get(cacheKey); ok {
		q := bridges.CloneQuote(cached)
		return &q, nil
	}

	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = bridges.DefaultSlippageBps
	}
	query := url.Values{}
	query.Set("amount", req.Amount.String())
	query.Set("token", sym)
	query.Set("fromChain", slugs[req.SourceChain])
	query.Set("toChain", slugs[req.DestinationChain])
	// percent, 50 bps is "0.5"
	query.Set("slippage", strconv.FormatFloat(float64(slippage)/100, 'f', -1, 64))

	var resp quoteResponse
	if err := p.client.GetJSON(ctx, req.SourceChain, "/quote", query, &resp); err != nil {
		if upstream.IsClientError(err) {
			log.Debug().Err(err).Str("source", string(req.SourceChain)).Str("amount", req.Amount.String()).Msg("Quote rejected")
			return nil, nil
		}
		return nil, err
	}

	output, err := bridges.ParseAmount(resp.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("hop: %w", err)
	}
	if output.Sign() <= 0 {
		return nil, nil
	}
	minOutput, err := bridges.ParseAmount(resp.AmountOutMin)
	if err != nil {
		return nil, fmt.Errorf("hop: %w", err)
	}
	if minOutput.Sign() <= 0 || minOutput.Cmp(output) > 0 {
		minOutput = bridges.ApplySlippage(output, req.SlippageBps)
	}
	bonderFee, err := bridges.ParseAmount(resp.BonderFee)
	if err != nil {
		return nil, fmt.Errorf("hop: %w", err)
	}
	destinationFee, err := bridges.ParseAmount(resp.DestinationTxFee)
	if err != nil {
		return nil, fmt.Errorf("hop: %w", err)
	}

	now := p.now()
	quote := bridges.Quote{
		ID:                   fmt.Sprintf("hop-%s-%s-%d-%s", req.SourceChain, req.DestinationChain, now.UnixMilli(), uuid.NewString()[:6]),
		Provider:             Name,
		SourceChain:          req.SourceChain,
		DestinationChain:     req.DestinationChain,
		SourceToken:          req.SourceToken,
		DestinationToken:     req.DestinationToken,
		InputAmount:          new(big.Int).Set(req.Amount),
		OutputAmount:         output,
		MinOutputAmount:      minOutput,
		Fees:                 bridges.Fees{BridgeFee: bonderFee, GasFee: destinationFee, RelayerFee: new(big.Int)},
		EstimatedTimeSeconds: transferSeconds,
		Contract:             contract,
		ExpiresAt:            now.Add(bridges.QuoteTTL),
		Extra: map[string]string{
			"symbol":    sym,
			"bonderFee": bonderFee.String(),
		},
	}
	p.quotes.Set(cacheKey, quote)

	out := bridges.CloneQuote(quote)
	return &out, nil
}

// BuildTransaction encodes L1_Bridge.sendToL2 from Ethereum and L2_AmmWrapper.swapAndSend elsewhere
func (p *Provider) BuildTransaction(_ context.Context, quote bridges.Quote, sender, recipient string) (*bridges.TxRequest, error) {
	if quote.Provider != Name || quote.Extra == nil {
		return nil, bridges.ErrQuoteNotFound
	}
	now := p.now()
	if !now.Before(quote.ExpiresAt) {
		return nil, bridges.ErrQuoteNotFound
	}
	sym := quote.Extra["symbol"]
	contract, ok := contractFor(quote.SourceChain, sym)
	if !ok {
		return nil, fmt.Errorf("%w: no %s bridge on %s", bridges.ErrUnsupportedChain, sym, quote.SourceChain)
	}
	if _, ok := contractFor(quote.DestinationChain, sym); !ok {
		return nil, fmt.Errorf("%w: no %s bridge on %s", bridges.ErrUnsupportedChain, sym, quote.DestinationChain)
	}
	dstID, err := chains.ChainID(quote.DestinationChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridges.ErrUnsupportedChain, err)
	}
	if !common.IsHexAddress(sender) || !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("hop: invalid sender or recipient address")
	}

	deadline := big.NewInt(now.Unix() + deadlineSec)
	var data []byte
	if quote.SourceChain == chains.Ethereum {
		data, err = parsedABI.Pack("sendToL2",
			new(big.Int).SetUint64(dstID),
			common.HexToAddress(recipient),
			quote.InputAmount,
			quote.MinOutputAmount,
			deadline,
			common.Address{},
			new(big.Int),
		)
	} else {
		bonderFee, perr := bridges.ParseAmount(quote.Extra["bonderFee"])
		if perr != nil {
			return nil, fmt.Errorf("hop: invalid bonder fee: %w", perr)
		}
		data, err = parsedABI.Pack("swapAndSend",
			new(big.Int).SetUint64(dstID),
			common.HexToAddress(recipient),
			quote.InputAmount,
			bonderFee,
			quote.MinOutputAmount,
			deadline,
			quote.MinOutputAmount,
			new(big.Int).Add(deadline, big.NewInt(destinationGraceSec)),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("hop: failed to encode transfer: %w", err)
	}

	tx := &bridges.TxRequest{
		Chain:    quote.SourceChain,
		To:       contract,
		Data:     data,
		Value:    new(big.Int),
		GasLimit: sendGasLimit,
	}
	if sym == "ETH" {
		tx.Value = new(big.Int).Set(quote.InputAmount)
	} else {
		tx.Approval = &bridges.Approval{
			Token:   quote.SourceToken,
			Spender: contract,
			Amount:  new(big.Int).Set(quote.InputAmount),
		}
	}
	return tx, nil
}

// GetStatus queries /transfer-status by source transaction hash. A transfer is complete once bonded.
func (p *Provider) GetStatus(ctx context.Context, txHash string, sourceChain chains.Chain) (*bridges.Receipt, error) {
	receipt := &bridges.Receipt{
		Provider:     Name,
		Status:       bridges.StatusPending,
		SourceTxHash: txHash,
		SourceChain:  sourceChain,
		CheckedAt:    p.now(),
	}

	query := url.Values{}
	query.Set("transactionHash", txHash)

	var status transferStatusResponse
	if err := p.client.GetJSON(ctx, sourceChain, "/transfer-status", query, &status); err != nil {
		if upstream.IsClientError(err) {
			return receipt, nil
		}
		return nil, err
	}

	switch {
	case status.Bonded && status.BondTransactionHash != "":
		receipt.Status = bridges.StatusCompleted
	case status.TransactionHash != "":
		receipt.Status = bridges.StatusBridging
	}
	if dst, ok := chains.ByChainID(status.DestinationChainID); ok {
		receipt.DestinationChain = dst
	}
	receipt.DestinationTxHash = status.BondTransactionHash
	receipt.DepositID = status.TransferID
	if v, err := bridges.ParseAmount(status.Amount); err == nil && v.Sign() > 0 {
		receipt.InputAmount = v
		if fee, err := bridges.ParseAmount(status.BonderFee); err == nil && receipt.Status == bridges.StatusCompleted {
			receipt.OutputAmount = new(big.Int).Sub(v, fee)
		}
	}
	return receipt, nil
}
