// Package stargate integrates Stargate pool bridging over LayerZero.
package stargate

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
	"github.com/tidwall/gjson"
)

const (
	// Name is the provider identifier
	Name = "stargate"
	// DefaultAPIURL is the Stargate quote API
	DefaultAPIURL = "https://api.stargate.finance"
	// DefaultScanURL is the LayerZero scan API used for delivery status
	DefaultScanURL = "https://api-mainnet.layerzero-scan.com"
)

const (
	defaultTransferSeconds = 300
	swapGasLimit           = 400_000
	// estimated quotes assume the usual 0.06% pool fee
	estimatedFeeBps = 6
)

// fallback LayerZero messaging fee in wei (0.0001 ETH)
var defaultLzFee = big.NewInt(100_000_000_000_000)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "bridge-stargate").Logger()
}

var routers = map[chains.Chain]string{
	chains.Ethereum: "0x77b2043768d28E9C9aB44E1aBfC95944bcE57931",
	chains.Base:     "0x45f1A95A4D3f3836523F5c83673c797f4d4d263B",
	chains.Arbitrum: "0x53Bf833A5d6c4ddA888F69c22C88C9f356a41614",
	chains.Polygon:  "0x45A01E4e04F14f7A4a6702c74187c5F6222033cd",
	chains.Optimism: "0xB0D502E938ed5f4df2E681fE6E419ff29631d62b",
	chains.BSC:      "0x4a364f8c717cAAD9A442737Eb7b8A55cc6cf18D8",
	chains.Linea:    "0x2F6F07CDcf3588944Bf4C42aC74ff24bF56e7590",
}

// pool ids by chain and token symbol
var poolIDs = map[chains.Chain]map[string]int64{
	chains.Ethereum: {"USDC": 1, "ETH": 13, "WETH": 13},
	chains.Base:     {"USDC": 1, "ETH": 13},
	chains.Arbitrum: {"USDC": 1, "ETH": 13, "WETH": 13},
	chains.Polygon:  {"USDC": 1},
	chains.Optimism: {"USDC": 1, "ETH": 13},
}

// LayerZero endpoint ids
var endpointIDs = map[chains.Chain]uint16{
	chains.Ethereum: 101,
	chains.Base:     184,
	chains.Arbitrum: 110,
	chains.Polygon:  109,
	chains.Optimism: 111,
	chains.BSC:      102,
	chains.Linea:    183,
}

const routerABI = `[{"type":"function","name":"swap","stateMutability":"payable","inputs":[
{"name":"_dstChainId","type":"uint16"},
{"name":"_srcPoolId","type":"uint256"},
{"name":"_dstPoolId","type":"uint256"},
{"name":"_refundAddress","type":"address"},
{"name":"_amountLD","type":"uint256"},
{"name":"_minAmountLD","type":"uint256"},
{"name":"_lzTxParams","type":"tuple","components":[
 {"name":"dstGasForCall","type":"uint256"},
 {"name":"dstNativeAmount","type":"uint256"},
 {"name":"dstNativeAddr","type":"bytes"}]},
{"name":"_to","type":"bytes"},
{"name":"_payload","type":"bytes"}],"outputs":[]}]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		panic(fmt.Sprintf("stargate: invalid router abi: %v", err))
	}
	return parsed
}()

// lzTxParams mirrors the router's tuple argument
type lzTxParams struct {
	DstGasForCall   *big.Int
	DstNativeAmount *big.Int
	DstNativeAddr   []byte
}

type quoteResponse struct {
	SrcPoolID    int64  `json:"srcPoolId"`
	DstPoolID    int64  `json:"dstPoolId"`
	AmountLD     string `json:"amountLD"`
	EqFee        string `json:"eqFee"`
	LpFee        string `json:"lpFee"`
	ProtocolFee  string `json:"protocolFee"`
	LzFee        string `json:"lzFee"`
	MinAmountLD  string `json:"minAmountLD"`
	ExpectedTime int    `json:"expectedTime"`
}

// Config for the Stargate adapter
type Config struct {
	APIURL     string
	ScanURL    string
	Timeout    time.Duration
	Limits     *ratelimit.Registry
	HTTPClient *http.Client
	Now        bridges.Clock
}

// Provider implements bridges.Provider for Stargate
type Provider struct {
	client  *upstream.Client
	scanURL string
	quotes  *bridges.Cache[bridges.Quote]
	now     bridges.Clock
}

// New creates the adapter
func New(cfg Config) *Provider {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.ScanURL == "" {
		cfg.ScanURL = DefaultScanURL
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
		scanURL: strings.TrimRight(cfg.ScanURL, "/"),
		quotes:  bridges.NewCache[bridges.Quote](bridges.DefaultQuoteCacheTTL, now),
		now:     now,
	}
}

// Name implements bridges.Provider
func (p *Provider) Name() string {
	return Name
}

func tokenSymbol(chain chains.Chain, token string) (string, bool) {
	if chains.SameAddress(token, chains.NativeTokenAddress) {
		return "ETH", true
	}
	t, ok := chains.IntermediateByAddress(chain, token)
	if !ok {
		return "", false
	}
	return t.Symbol, true
}

func pools(src, dst chains.Chain, token string) (int64, int64, bool) {
	symbol, ok := tokenSymbol(src, token)
	if !ok {
		return 0, 0, false
	}
	srcPool, ok := poolIDs[src][symbol]
	if !ok {
		return 0, 0, false
	}
	dstPool, ok := poolIDs[dst][symbol]
	if !ok {
		return 0, 0, false
	}
	return srcPool, dstPool, true
}

// SupportsRoute checks the static router and pool tables, no I/O
func (p *Provider) SupportsRoute(_ context.Context, src, dst chains.Chain, token string) (bool, error) {
	if _, ok := routers[src]; !ok {
		return false, nil
	}
	if _, ok := routers[dst]; !ok {
		return false, nil
	}
	_, _, ok := pools(src, dst, token)
	return ok, nil
}

// GetQuote asks the Stargate API. When the API cannot answer the quote is estimated
// from the typical pool fee and flagged with Extra["estimated"].
func (p *Provider) GetQuote(ctx context.Context, req bridges.QuoteRequest) (*bridges.Quote, error) {
	router, ok := routers[req.SourceChain]
	if !ok {
		return nil, nil
	}
	lzDst, ok := endpointIDs[req.DestinationChain]
	if !ok {
		return nil, nil
	}
	srcPool, dstPool, ok := pools(req.SourceChain, req.DestinationChain, req.SourceToken)
	if !ok {
		log.Debug().Str("source", string(req.SourceChain)).Str("token", req.SourceToken).Msg("Pool not supported on route")
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

	query := url.Values{}
	query.Set("srcChain", string(req.SourceChain))
	query.Set("dstChain", string(req.DestinationChain))
	query.Set("srcPoolId", strconv.FormatInt(srcPool, 10))
	query.Set("dstPoolId", strconv.FormatInt(dstPool, 10))
	query.Set("amount", req.Amount.String())

	var (
		output, protocolFee, lzFee, lpFee *big.Int
		eta                               = defaultTransferSeconds
		estimated                         bool
	)

	var resp quoteResponse
	err := p.client.GetJSON(ctx, req.SourceChain, "/v1/quote", query, &resp)
	if err == nil {
		output, err = bridges.ParseAmount(resp.MinAmountLD)
	}
	if err == nil {
		protocolFee, err = bridges.ParseAmount(resp.ProtocolFee)
	}
	if err == nil {
		lzFee, err = bridges.ParseAmount(resp.LzFee)
	}
	if err == nil {
		lpFee, err = bridges.ParseAmount(resp.LpFee)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("source", string(req.SourceChain)).Str("destination", string(req.DestinationChain)).Msg("Quote API unavailable, estimating")
		fee := new(big.Int).Mul(req.Amount, big.NewInt(estimatedFeeBps))
		fee.Quo(fee, big.NewInt(10000))
		output = new(big.Int).Sub(req.Amount, fee)
		protocolFee = new(big.Int).Quo(fee, big.NewInt(2))
		lzFee = new(big.Int).Quo(fee, big.NewInt(4))
		lpFee = new(big.Int).Sub(fee, new(big.Int).Add(protocolFee, lzFee))
		estimated = true
	} else if resp.ExpectedTime > 0 {
		eta = resp.ExpectedTime
	}
	if output.Sign() <= 0 {
		return nil, nil
	}

	now := p.now()
	quote := bridges.Quote{
		ID:                   fmt.Sprintf("stargate-%s-%s-%d-%s", req.SourceChain, req.DestinationChain, now.UnixMilli(), uuid.NewString()[:6]),
		Provider:             Name,
		SourceChain:          req.SourceChain,
		DestinationChain:     req.DestinationChain,
		SourceToken:          req.SourceToken,
		DestinationToken:     req.DestinationToken,
		InputAmount:          new(big.Int).Set(req.Amount),
		OutputAmount:         output,
		MinOutputAmount:      bridges.ApplySlippage(output, req.SlippageBps),
		Fees:                 bridges.Fees{BridgeFee: new(big.Int).Add(protocolFee, lpFee), GasFee: lzFee, RelayerFee: new(big.Int)},
		EstimatedTimeSeconds: eta,
		Contract:             router,
		ExpiresAt:            now.Add(bridges.QuoteTTL),
		Extra: map[string]string{
			"srcPoolId":    strconv.FormatInt(srcPool, 10),
			"dstPoolId":    strconv.FormatInt(dstPool, 10),
			"lzDstChainId": strconv.FormatUint(uint64(lzDst), 10),
			"lzFee":        lzFee.String(),
			"estimated":    strconv.FormatBool(estimated),
		},
	}
	p.quotes.Set(cacheKey, quote)

	out := bridges.CloneQuote(quote)
	return &out, nil
}

// BuildTransaction encodes Router.swap. The LayerZero fee is paid as native value.
func (p *Provider) BuildTransaction(_ context.Context, quote bridges.Quote, sender, recipient string) (*bridges.TxRequest, error) {
	if quote.Provider != Name || quote.Extra == nil || !p.now().Before(quote.ExpiresAt) {
		return nil, bridges.ErrQuoteNotFound
	}
	router, ok := routers[quote.SourceChain]
	if !ok {
		return nil, fmt.Errorf("%w: no stargate router on %s", bridges.ErrUnsupportedChain, quote.SourceChain)
	}
	if !common.IsHexAddress(sender) || !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("stargate: invalid sender or recipient address")
	}

	srcPool, err := strconv.ParseInt(quote.Extra["srcPoolId"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stargate: invalid source pool: %w", err)
	}
	dstPool, err := strconv.ParseInt(quote.Extra["dstPoolId"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stargate: invalid destination pool: %w", err)
	}
	lzDst, err := strconv.ParseUint(quote.Extra["lzDstChainId"], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("stargate: invalid endpoint id: %w", err)
	}

	to := common.LeftPadBytes(common.HexToAddress(recipient).Bytes(), 32)
	data, err := parsedABI.Pack("swap",
		uint16(lzDst),
		big.NewInt(srcPool),
		big.NewInt(dstPool),
		common.HexToAddress(sender),
		quote.InputAmount,
		quote.MinOutputAmount,
		lzTxParams{DstGasForCall: new(big.Int), DstNativeAmount: new(big.Int), DstNativeAddr: []byte{}},
		to,
		[]byte{},
	)
	if err != nil {
		return nil, fmt.Errorf("stargate: failed to encode swap: %w", err)
	}

	value := new(big.Int).Set(defaultLzFee)
	if fee, err := bridges.ParseAmount(quote.Extra["lzFee"]); err == nil && fee.Sign() > 0 {
		value = fee
	}
	return &bridges.TxRequest{
		Chain:    quote.SourceChain,
		To:       router,
		Data:     data,
		Value:    value,
		GasLimit: swapGasLimit,
		Approval: &bridges.Approval{
			Token:   quote.SourceToken,
			Spender: router,
			Amount:  new(big.Int).Set(quote.InputAmount),
		},
	}, nil
}

// GetStatus reads the LayerZero message state for the source transaction
func (p *Provider) GetStatus(ctx context.Context, txHash string, sourceChain chains.Chain) (*bridges.Receipt, error) {
	receipt := &bridges.Receipt{
		Provider:     Name,
		Status:       bridges.StatusPending,
		SourceTxHash: txHash,
		SourceChain:  sourceChain,
		CheckedAt:    p.now(),
	}

	body, err := p.client.GetURL(ctx, sourceChain, p.scanURL+"/tx/"+url.PathEscape(txHash), nil)
	if err != nil {
		if upstream.IsClientError(err) {
			return receipt, nil
		}
		return nil, err
	}

	// the scan API has shipped both a flat object and a {messages: [...]} envelope
	msg := gjson.ParseBytes(body)
	if first := msg.Get("messages.0"); first.Exists() {
		msg = first
	}

	switch strings.ToLower(msg.Get("status_name").String()) {
	case "delivered":
		receipt.Status = bridges.StatusCompleted
	case "inflight":
		receipt.Status = bridges.StatusBridging
	case "failed":
		receipt.Status = bridges.StatusFailed
	}
	receipt.DestinationTxHash = msg.Get("dstTxHash").String()
	dstEndpoint := uint16(msg.Get("dstChainId").Uint())
	for chain, id := range endpointIDs {
		if id == dstEndpoint {
			receipt.DestinationChain = chain
			break
		}
	}
	if nonce := msg.Get("nonce"); nonce.Exists() {
		receipt.DepositID = nonce.String()
	}
	return receipt, nil
}
