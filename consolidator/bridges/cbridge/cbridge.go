// Package cbridge integrates the Celer cBridge liquidity network.
package cbridge

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"regexp"
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

const (
	// Name is the provider identifier
	Name = "cbridge"
	// DefaultAPIURL is the cBridge gateway
	DefaultAPIURL = "https://cbridge-prod2.celer.app/v2"
)

const (
	configTTL       = time.Hour
	transferSeconds = 240
	sendGasLimit    = 250_000
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "bridge-cbridge").Logger()
}

var contracts = map[chains.Chain]string{
	chains.Ethereum: "0x5427FEFA711Eff984124bFBB1AB6fbf5E3DA1820",
	chains.Base:     "0x7d43AABC515C356145049227CeE54B608342c0ad",
	chains.Arbitrum: "0x1619DE6B6B20eD217a58d00f37B9d47C7663feca",
	chains.Polygon:  "0x88DCDC47D2f83a99CF0000FDF667A468bB958a78",
	chains.Optimism: "0x9D39Fc627A6d9d9F8C831c16995b209548cc3401",
	chains.BSC:      "0xdd90E5E87A2081Dcf0391920868eBc2FFB81a1aF",
}

const bridgeABI = `[
{"type":"function","name":"send","stateMutability":"nonpayable","inputs":[
 {"name":"_receiver","type":"address"},
 {"name":"_token","type":"address"},
 {"name":"_amount","type":"uint256"},
 {"name":"_dstChainId","type":"uint64"},
 {"name":"_nonce","type":"uint64"},
 {"name":"_maxSlippage","type":"uint32"}],"outputs":[]},
{"type":"function","name":"sendNative","stateMutability":"payable","inputs":[
 {"name":"_receiver","type":"address"},
 {"name":"_amount","type":"uint256"},
 {"name":"_dstChainId","type":"uint64"},
 {"name":"_nonce","type":"uint64"},
 {"name":"_maxSlippage","type":"uint32"}],"outputs":[]}]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		panic(fmt.Sprintf("cbridge: invalid bridge abi: %v", err))
	}
	return parsed
}()

var txHashPattern = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)

type apiErr struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type configToken struct {
	Address      string `json:"address"`
	Symbol       string `json:"symbol"`
	Decimal      int    `json:"decimal"`
	XferDisabled bool   `json:"xfer_disabled"`
}

type chainTokenEntry struct {
	Token configToken `json:"token"`
}

type transferConfig struct {
	Err        *apiErr `json:"err"`
	ChainToken map[string]struct {
		Token []chainTokenEntry `json:"token"`
	} `json:"chain_token"`
}

type estimateResponse struct {
	Err                 *apiErr `json:"err"`
	EstimatedReceiveAmt string  `json:"estimated_receive_amt"`
	BaseFee             string  `json:"base_fee"`
	PercFee             string  `json:"perc_fee"`
	MaxSlippage         uint32  `json:"max_slippage"`
}

type statusResponse struct {
	Err            *apiErr `json:"err"`
	Status         int     `json:"status"`
	DstBlockTxLink string  `json:"dst_block_tx_link"`
	RefundReason   int     `json:"refund_reason"`
}

// Config for the cBridge adapter
type Config struct {
	APIURL     string
	Timeout    time.Duration
	Limits     *ratelimit.Registry
	HTTPClient *http.Client
	Now        bridges.Clock
}

// Provider implements bridges.Provider for cBridge
type Provider struct {
	client  *upstream.Client
	quotes  *bridges.Cache[bridges.Quote]
	configs *bridges.Cache[*transferConfig]
	now     bridges.Clock
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
		quotes:  bridges.NewCache[bridges.Quote](bridges.DefaultQuoteCacheTTL, now),
		configs: bridges.NewCache[*transferConfig](configTTL, now),
		now:     now,
	}
}

// Name implements bridges.Provider
func (p *Provider) Name() string {
	return Name
}

func (p *Provider) transferConfig(ctx context.Context, chain chains.Chain) (*transferConfig, error) {
	if cfg, ok := p.configs.Get("config"); ok {
		return cfg, nil
	}
	var cfg transferConfig
	if err := p.client.GetJSON(ctx, chain, "/getTransferConfigs", nil, &cfg); err != nil {
		return nil, err
	}
	if cfg.Err != nil {
		return nil, fmt.Errorf("cbridge: config error %d: %s", cfg.Err.Code, cfg.Err.Msg)
	}
	p.configs.Set("config", &cfg)
	return &cfg, nil
}

// tokens resolves the source token and its same symbol counterpart on the destination.
// The error is set only when the transfer config could not be loaded.
func (p *Provider) tokens(ctx context.Context, src, dst chains.Chain, token string) (configToken, configToken, bool, error) {
	srcID, err := chains.ChainID(src)
	if err != nil {
		return configToken{}, configToken{}, false, nil
	}
	dstID, err := chains.ChainID(dst)
	if err != nil {
		return configToken{}, configToken{}, false, nil
	}
	cfg, err := p.transferConfig(ctx, src)
	if err != nil {
		return configToken{}, configToken{}, false, err
	}

	var srcToken *configToken
	for _, t := range cfg.ChainToken[strconv.FormatUint(srcID, 10)].Token {
		if !t.Token.XferDisabled && chains.SameAddress(t.Token.Address, token) {
			srcToken = &t.Token
			break
		}
	}
	if srcToken == nil {
		return configToken{}, configToken{}, false, nil
	}
	for _, t := range cfg.ChainToken[strconv.FormatUint(dstID, 10)].Token {
		if !t.Token.XferDisabled && t.Token.Symbol == srcToken.Symbol {
			return *srcToken, t.Token, true, nil
		}
	}
	return configToken{}, configToken{}, false, nil
}

// SupportsRoute checks the contract table and the transfer config
func (p *Provider) SupportsRoute(ctx context.Context, src, dst chains.Chain, token string) (bool, error) {
	if _, ok := contracts[src]; !ok {
		return false, nil
	}
	if _, ok := contracts[dst]; !ok {
		return false, nil
	}
	_, _, ok, err := p.tokens(ctx, src, dst, token)
	return ok, err
}

// GetQuote calls /estimateAmt. An err field in the response means no quote.
func (p *Provider) GetQuote(ctx context.Context, req bridges.QuoteRequest) (*bridges.Quote, error) {
	contract, ok := contracts[req.SourceChain]
	if !ok {
		return nil, nil
	}
	if _, ok := contracts[req.DestinationChain]; !ok {
		return nil, nil
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, nil
	}

	cacheKey := bridges.QuoteKey(Name, req)
	if cached, ok := p.quotes.Get(cacheKey); ok {
		q := bridges.CloneQuote(cached)
		return &q, nil
	}

	srcToken, dstToken, ok, err := p.tokens(ctx, req.SourceChain, req.DestinationChain, req.SourceToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	srcID, _ := chains.ChainID(req.SourceChain)
	dstID, _ := chains.ChainID(req.DestinationChain)
	slippageBps := req.SlippageBps
	if slippageBps == 0 {
		slippageBps = bridges.DefaultSlippageBps
	}

	query := url.Values{}
	query.Set("src_chain_id", strconv.FormatUint(srcID, 10))
	query.Set("dst_chain_id", strconv.FormatUint(dstID, 10))
	query.Set("token_symbol", srcToken.Symbol)
	query.Set("amt", req.Amount.String())
	query.Set("usr_addr", req.Sender)
	// parts per million
	query.Set("slippage_tolerance", strconv.FormatUint(uint64(slippageBps)*100, 10))

	var est estimateResponse
	if err := p.client.GetJSON(ctx, req.SourceChain, "/estimateAmt", query, &est); err != nil {
		return nil, err
	}
	if est.Err != nil {
		log.Debug().Int("code", est.Err.Code).Str("msg", est.Err.Msg).Msg("Estimate rejected")
		return nil, nil
	}

	output, err := bridges.ParseAmount(est.EstimatedReceiveAmt)
	if err != nil {
		return nil, fmt.Errorf("cbridge: %w", err)
	}
	baseFee, err := bridges.ParseAmount(est.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("cbridge: %w", err)
	}
	percFee, err := bridges.ParseAmount(est.PercFee)
	if err != nil {
		return nil, fmt.Errorf("cbridge: %w", err)
	}
	if output.Sign() <= 0 {
		return nil, nil
	}

	maxSlippage := est.MaxSlippage
	if maxSlippage == 0 {
		maxSlippage = uint32(slippageBps) * 100
	}

	now := p.now()
	quote := bridges.Quote{
		ID:                   fmt.Sprintf("cbridge-%s-%s-%d-%s", req.SourceChain, req.DestinationChain, now.UnixMilli(), uuid.NewString()[:6]),
		Provider:             Name,
		SourceChain:          req.SourceChain,
		DestinationChain:     req.DestinationChain,
		SourceToken:          req.SourceToken,
		DestinationToken:     dstToken.Address,
		InputAmount:          new(big.Int).Set(req.Amount),
		OutputAmount:         output,
		MinOutputAmount:      bridges.ApplySlippage(output, req.SlippageBps),
		Fees:                 bridges.Fees{BridgeFee: baseFee, GasFee: new(big.Int), RelayerFee: percFee},
		EstimatedTimeSeconds: transferSeconds,
		Contract:             contract,
		ExpiresAt:            now.Add(bridges.QuoteTTL),
		Extra: map[string]string{
			"symbol":      srcToken.Symbol,
			"maxSlippage": strconv.FormatUint(uint64(maxSlippage), 10),
		},
	}
	p.quotes.Set(cacheKey, quote)

	out := bridges.CloneQuote(quote)
	return &out, nil
}

// BuildTransaction encodes send, or sendNative for ETH
func (p *Provider) BuildTransaction(_ context.Context, quote bridges.Quote, _, recipient string) (*bridges.TxRequest, error) {
	if quote.Provider != Name || quote.Extra == nil || !p.now().Before(quote.ExpiresAt) {
		return nil, bridges.ErrQuoteNotFound
	}
	contract, ok := contracts[quote.SourceChain]
	if !ok {
		return nil, fmt.Errorf("%w: no cbridge contract on %s", bridges.ErrUnsupportedChain, quote.SourceChain)
	}
	dstID, err := chains.ChainID(quote.DestinationChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridges.ErrUnsupportedChain, err)
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("cbridge: invalid recipient address")
	}
	maxSlippage, err := strconv.ParseUint(quote.Extra["maxSlippage"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("cbridge: invalid max slippage: %w", err)
	}
	nonce := uint64(p.now().UnixMilli())

	tx := &bridges.TxRequest{
		Chain:    quote.SourceChain,
		To:       contract,
		GasLimit: sendGasLimit,
	}
	if quote.Extra["symbol"] == "ETH" {
		tx.Data, err = parsedABI.Pack("sendNative",
			common.HexToAddress(recipient),
			quote.InputAmount,
			dstID,
			nonce,
			uint32(maxSlippage),
		)
		tx.Value = new(big.Int).Set(quote.InputAmount)
	} else {
		tx.Data, err = parsedABI.Pack("send",
			common.HexToAddress(recipient),
			common.HexToAddress(quote.SourceToken),
			quote.InputAmount,
			dstID,
			nonce,
			uint32(maxSlippage),
		)
		tx.Value = new(big.Int)
		tx.Approval = &bridges.Approval{
			Token:   quote.SourceToken,
			Spender: contract,
			Amount:  new(big.Int).Set(quote.InputAmount),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cbridge: failed to encode send: %w", err)
	}
	return tx, nil
}

// GetStatus calls /getTransferStatus with the transfer id
func (p *Provider) GetStatus(ctx context.Context, transferID string, sourceChain chains.Chain) (*bridges.Receipt, error) {
	receipt := &bridges.Receipt{
		Provider:     Name,
		Status:       bridges.StatusPending,
		SourceTxHash: transferID,
		SourceChain:  sourceChain,
		DepositID:    transferID,
		CheckedAt:    p.now(),
	}

	var status statusResponse
	err := p.client.GetJSON(ctx, sourceChain, "/getTransferStatus", url.Values{"transfer_id": {transferID}}, &status)
	if err != nil {
		if upstream.IsClientError(err) {
			return receipt, nil
		}
		return nil, err
	}
	if status.Err != nil {
		receipt.Message = status.Err.Msg
		return receipt, nil
	}

	switch status.Status {
	case 3:
		receipt.Status = bridges.StatusCompleted
	case 4:
		receipt.Status = bridges.StatusFailed
	case 5:
		receipt.Status = bridges.StatusRefunded
		receipt.Message = fmt.Sprintf("refund reason %d", status.RefundReason)
	case 1, 2:
		receipt.Status = bridges.StatusBridging
	}
	receipt.DestinationTxHash = txHashPattern.FindString(status.DstBlockTxLink)
	return receipt, nil
}
