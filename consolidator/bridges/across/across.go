// Package across integrates Across Protocol V3 relayer bridging.
package across

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
const Name = "across"

// DefaultAPIURL is the public Across API
const DefaultAPIURL = "https://app.across.to/api"

const (
	limitsTTL       = 5 * time.Minute
	fastFillSeconds = 60
	depositGasLimit = 200_000
	fillDeadlineSec = 3600
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "bridge-across").Logger()
}

// V3 SpokePool per source chain
var spokePools = map[chains.Chain]string{
	chains.Ethereum: "0x5c7BCd6E7De5423a257D81B442095A1a6ced35C5",
	chains.Base:     "0x09aea4b2242abC8bb4BB78D537A67a245A7bEC64",
	chains.Arbitrum: "0xe35e9842fceaCA96570B734083f4a58e8F7C5f2A",
	chains.Polygon:  "0x9295ee1d8C5b022Be115A2AD3c30C72E34e7F096",
	chains.Optimism: "0x6f26Bf09B1C792e3228e5467807a900A503c0281",
	chains.Linea:    "0x7E63A5f1a8F0B4d0934B2f2327DAED3F6bb2ee75",
}

const spokePoolABI = `[{"type":"function","name":"depositV3","stateMutability":"payable","inputs":[
{"name":"depositor","type":"address"},
{"name":"recipient","type":"address"},
{"name":"inputToken","type":"address"},
{"name":"outputToken","type":"address"},
{"name":"inputAmount","type":"uint256"},
{"name":"outputAmount","type":"uint256"},
{"name":"destinationChainId","type":"uint256"},
{"name":"exclusiveRelayer","type":"address"},
{"name":"quoteTimestamp","type":"uint32"},
{"name":"fillDeadline","type":"uint32"},
{"name":"exclusivityDeadline","type":"uint32"},
{"name":"message","type":"bytes"}],"outputs":[]}]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(spokePoolABI))
	if err != nil {
		panic(fmt.Sprintf("across: invalid spoke pool abi: %v", err))
	}
	return parsed
}()

type feeComponent struct {
	Total string `json:"total"`
	Pct   string `json:"pct"`
}

type suggestedFeesResponse struct {
	TotalRelayFee       feeComponent `json:"totalRelayFee"`
	RelayerCapitalFee   feeComponent `json:"relayerCapitalFee"`
	RelayerGasFee       feeComponent `json:"relayerGasFee"`
	LpFee               feeComponent `json:"lpFee"`
	Timestamp           string       `json:"timestamp"`
	IsAmountTooLow      bool         `json:"isAmountTooLow"`
	ExclusiveRelayer    string       `json:"exclusiveRelayer"`
	ExclusivityDeadline string       `json:"exclusivityDeadline"`
	SpokePoolAddress    string       `json:"spokePoolAddress"`
	ExpectedFillTimeSec int          `json:"expectedFillTimeSec"`
}

type limitsResponse struct {
	MinDeposit string `json:"minDeposit"`
	MaxDeposit string `json:"maxDeposit"`
}

type depositStatusResponse struct {
	Status             string `json:"status"`
	FillTx             string `json:"fillTx"`
	DepositTxHash      string `json:"depositTxHash"`
	DepositID          int64  `json:"depositId"`
	OriginChainID      uint64 `json:"originChainId"`
	DestinationChainID uint64 `json:"destinationChainId"`
	Amount             string `json:"amount"`
	OutputAmount       string `json:"outputAmount"`
}

// Config for the Across adapter
type Config struct {
	APIURL     string
	Timeout    time.Duration
	Limits     *ratelimit.Registry
	HTTPClient *http.Client
	Now        bridges.Clock
}

// Provider implements bridges.Provider for Across
type Provider struct {
	client *upstream.Client
	quotes *bridges.Cache[bridges.Quote]
	limits *bridges.Cache[*limitsResponse]
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
		limits: bridges.NewCache[*limitsResponse](limitsTTL, now),
		now:    now,
	}
}

// Name implements bridges.Provider
func (p *Provider) Name() string {
	return Name
}

// SupportsRoute is true when both chains have a spoke pool and the route has a deposit limit
// A route Across does not know answers /limits with a 4xx; other failures are returned.
func (p *Provider) SupportsRoute(ctx context.Context, src, dst chains.Chain, token string) (bool, error) {
	if _, ok := spokePools[src]; !ok {
		return false, nil
	}
	if _, ok := spokePools[dst]; !ok {
		return false, nil
	}
	limits, err := p.getLimits(ctx, src, dst, token)
	if err != nil {
		if upstream.IsClientError(err) {
			log.Debug().Err(err).Str("source", string(src)).Str("destination", string(dst)).Msg("Route rejected by limits")
			return false, nil
		}
		return false, err
	}
	maxDeposit, err := bridges.ParseAmount(limits.MaxDeposit)
	return err == nil && maxDeposit.Sign() > 0, nil
}

func (p *Provider) getLimits(ctx context.Context, src, dst chains.Chain, token string) (*limitsResponse, error) {
	key := fmt.Sprintf("%s:%s:%s", src, dst, strings.ToLower(token))
	if cached, ok := p.limits.Get(key); ok {
		return cached, nil
	}

	srcID, err := chains.ChainID(src)
	if err != nil {
		return nil, err
	}
	dstID, err := chains.ChainID(dst)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("token", token)
	query.Set("originChainId", strconv.FormatUint(srcID, 10))
	query.Set("destinationChainId", strconv.FormatUint(dstID, 10))

	var limits limitsResponse
	if err := p.client.GetJSON(ctx, src, "/limits", query, &limits); err != nil {
		return nil, err
	}
	p.limits.Set(key, &limits)
	return &limits, nil
}

// GetQuote asks /suggested-fees for the relay fee. Amounts below the route minimum and
// responses flagged isAmountTooLow yield no quote.
func (p *Provider) GetQuote(ctx context.Context, req bridges.QuoteRequest) (*bridges.Quote, error) {
	spokePool, ok := spokePools[req.SourceChain]
	if !ok {
		return nil, nil
	}
	if _, ok := spokePools[req.DestinationChain]; !ok {
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

	if limits, err := p.getLimits(ctx, req.SourceChain, req.DestinationChain, req.SourceToken); err == nil {
		if minDeposit, err := bridges.ParseAmount(limits.MinDeposit); err == nil && req.Amount.Cmp(minDeposit) < 0 {
			log.Debug().Str("amount", req.Amount.String()).Str("min", minDeposit.String()).Msg("Amount below route minimum")
			return nil, nil
		}
	}

	srcID, _ := chains.ChainID(req.SourceChain)
	dstID, _ := chains.ChainID(req.DestinationChain)

	query := url.Values{}
	query.Set("token", req.SourceToken)
	query.Set("inputToken", req.SourceToken)
	query.Set("outputToken", req.DestinationToken)
	query.Set("originChainId", strconv.FormatUint(srcID, 10))
	query.Set("destinationChainId", strconv.FormatUint(dstID, 10))
	query.Set("amount", req.Amount.String())
	if req.Recipient != "" {
		query.Set("recipient", req.Recipient)
	}

	var fees suggestedFeesResponse
	if err := p.client.GetJSON(ctx, req.SourceChain, "/suggested-fees", query, &fees); err != nil {
		return nil, err
	}
	if fees.IsAmountTooLow {
		log.Debug().Str("source", string(req.SourceChain)).Str("amount", req.Amount.String()).Msg("Amount too low for bridge")
		return nil, nil
	}

	totalFee, err := bridges.ParseAmount(fees.TotalRelayFee.Total)
	if err != nil {
		return nil, fmt.Errorf("across: %w", err)
	}
	output := new(big.Int).Sub(req.Amount, totalFee)
	if output.Sign() <= 0 {
		return nil, nil
	}
	lpFee, err := bridges.ParseAmount(fees.LpFee.Total)
	if err != nil {
		return nil, fmt.Errorf("across: %w", err)
	}
	gasFee, err := bridges.ParseAmount(fees.RelayerGasFee.Total)
	if err != nil {
		return nil, fmt.Errorf("across: %w", err)
	}
	capitalFee, err := bridges.ParseAmount(fees.RelayerCapitalFee.Total)
	if err != nil {
		return nil, fmt.Errorf("across: %w", err)
	}

	fastFill := isFastFillEligible(req.SourceChain, req.SourceToken, output)
	eta := fees.ExpectedFillTimeSec
	if fastFill {
		eta = fastFillSeconds
	}
	if fees.SpokePoolAddress != "" && common.IsHexAddress(fees.SpokePoolAddress) {
		spokePool = fees.SpokePoolAddress
	}

	now := p.now()
	quote := bridges.Quote{
		ID:                   fmt.Sprintf("across-%s-%s-%d-%s", req.SourceChain, req.DestinationChain, now.UnixMilli(), uuid.NewString()[:6]),
		Provider:             Name,
		SourceChain:          req.SourceChain,
		DestinationChain:     req.DestinationChain,
		SourceToken:          req.SourceToken,
		DestinationToken:     req.DestinationToken,
		InputAmount:          new(big.Int).Set(req.Amount),
		OutputAmount:         output,
		MinOutputAmount:      bridges.ApplySlippage(output, req.SlippageBps),
		Fees:                 bridges.Fees{BridgeFee: lpFee, GasFee: gasFee, RelayerFee: capitalFee},
		EstimatedTimeSeconds: eta,
		FastFill:             fastFill,
		Contract:             spokePool,
		ExpiresAt:            now.Add(bridges.QuoteTTL),
		Extra: map[string]string{
			"quoteTimestamp":      fees.Timestamp,
			"exclusiveRelayer":    fees.ExclusiveRelayer,
			"exclusivityDeadline": fees.ExclusivityDeadline,
		},
	}
	p.quotes.Set(cacheKey, quote)

	out := bridges.CloneQuote(quote)
	return &out, nil
}

// isFastFillEligible: relayers front USDC up to 250k and WETH up to 100
func isFastFillEligible(chain chains.Chain, token string, amount *big.Int) bool {
	t, ok := chains.IntermediateByAddress(chain, token)
	if !ok {
		return false
	}
	var limit *big.Int
	switch t.Symbol {
	case "USDC":
		limit = new(big.Int).Mul(big.NewInt(250_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil))
	case "WETH":
		limit = new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil))
	default:
		return false
	}
	return amount.Cmp(limit) <= 0
}

// BuildTransaction encodes SpokePool.depositV3 for the quote
func (p *Provider) BuildTransaction(_ context.Context, quote bridges.Quote, sender, recipient string) (*bridges.TxRequest, error) {
	if quote.Provider != Name || quote.Extra == nil {
		return nil, bridges.ErrQuoteNotFound
	}
	if !p.now().Before(quote.ExpiresAt) {
		return nil, bridges.ErrQuoteNotFound
	}
	spokePool := quote.Contract
	if spokePool == "" {
		spokePool = spokePools[quote.SourceChain]
	}
	if spokePool == "" {
		return nil, fmt.Errorf("%w: no spoke pool on %s", bridges.ErrUnsupportedChain, quote.SourceChain)
	}
	dstID, err := chains.ChainID(quote.DestinationChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridges.ErrUnsupportedChain, err)
	}
	if !common.IsHexAddress(sender) || !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("across: invalid sender or recipient address")
	}

	quoteTimestamp, err := strconv.ParseUint(quote.Extra["quoteTimestamp"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("across: invalid quote timestamp: %w", err)
	}
	// a missing exclusivity deadline means no exclusive relayer
	exclusivityDeadline, _ := strconv.ParseUint(quote.Extra["exclusivityDeadline"], 10, 32)
	relayer := common.Address{}
	if r := quote.Extra["exclusiveRelayer"]; common.IsHexAddress(r) {
		relayer = common.HexToAddress(r)
	}
	fillDeadline := uint32(p.now().Unix() + fillDeadlineSec)

	data, err := parsedABI.Pack("depositV3",
		common.HexToAddress(sender),
		common.HexToAddress(recipient),
		common.HexToAddress(quote.SourceToken),
		common.HexToAddress(quote.DestinationToken),
		quote.InputAmount,
		quote.MinOutputAmount,
		new(big.Int).SetUint64(dstID),
		relayer,
		uint32(quoteTimestamp),
		fillDeadline,
		uint32(exclusivityDeadline),
		[]byte{},
	)
	if err != nil {
		return nil, fmt.Errorf("across: failed to encode deposit: %w", err)
	}

	tx := &bridges.TxRequest{
		Chain:    quote.SourceChain,
		To:       spokePool,
		Data:     data,
		Value:    new(big.Int),
		GasLimit: depositGasLimit,
	}
	if chains.SameAddress(quote.SourceToken, chains.NativeTokenAddress) {
		tx.Value = new(big.Int).Set(quote.InputAmount)
	} else {
		tx.Approval = &bridges.Approval{
			Token:   quote.SourceToken,
			Spender: spokePool,
			Amount:  new(big.Int).Set(quote.InputAmount),
		}
	}
	return tx, nil
}

// GetStatus queries /deposit/status by source transaction hash
func (p *Provider) GetStatus(ctx context.Context, txHash string, sourceChain chains.Chain) (*bridges.Receipt, error) {
	srcID, err := chains.ChainID(sourceChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridges.ErrUnsupportedChain, err)
	}

	receipt := &bridges.Receipt{
		Provider:     Name,
		Status:       bridges.StatusPending,
		SourceTxHash: txHash,
		SourceChain:  sourceChain,
		CheckedAt:    p.now(),
	}

	query := url.Values{}
	query.Set("originChainId", strconv.FormatUint(srcID, 10))
	query.Set("depositTxHash", txHash)

	var status depositStatusResponse
	if err := p.client.GetJSON(ctx, sourceChain, "/deposit/status", query, &status); err != nil {
		// deposits are not indexed immediately
		if upstream.IsClientError(err) {
			return receipt, nil
		}
		return nil, err
	}

	switch status.Status {
	case "filled":
		receipt.Status = bridges.StatusCompleted
	case "expired":
		receipt.Status = bridges.StatusExpired
	default:
		receipt.Status = bridges.StatusBridging
	}
	if dst, ok := chains.ByChainID(status.DestinationChainID); ok {
		receipt.DestinationChain = dst
	}
	receipt.DestinationTxHash = status.FillTx
	receipt.DepositID = strconv.FormatInt(status.DepositID, 10)
	if v, err := bridges.ParseAmount(status.Amount); err == nil && v.Sign() > 0 {
		receipt.InputAmount = v
	}
	if v, err := bridges.ParseAmount(status.OutputAmount); err == nil && v.Sign() > 0 {
		receipt.OutputAmount = v
	}
	return receipt, nil
}
