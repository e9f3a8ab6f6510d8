// Package socket integrates the Socket (Bungee) bridge aggregator.
// Socket routes through third party bridges, so its quotes carry the route
// it picked and BuildTransaction asks Socket to encode that exact route.
package socket

import (
	"context"
	"encoding/json"
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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Name is the provider identifier
const Name = "socket"

// DefaultAPIURL is the public Socket API
const DefaultAPIURL = "https://api.socket.tech/v2"

// used when Socket reports no gas limit for the route
const defaultGasLimit = 500_000

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "bridge-socket").Logger()
}

var supportedChains = map[chains.Chain]bool{
	chains.Ethereum: true,
	chains.Base:     true,
	chains.Arbitrum: true,
	chains.Polygon:  true,
	chains.Optimism: true,
	chains.BSC:      true,
	chains.Linea:    true,
}

type asset struct {
	ChainID  uint64 `json:"chainId"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type userTx struct {
	TxType  string `json:"txType"`
	ChainID uint64 `json:"chainId"`
	GasFees struct {
		GasLimit uint64 `json:"gasLimit"`
	} `json:"gasFees"`
}

// route is the subset of a Socket route we read. The raw route is kept for /build-tx.
type route struct {
	RouteID           string   `json:"routeId"`
	FromAmount        string   `json:"fromAmount"`
	ToAmount          string   `json:"toAmount"`
	UsedBridgeNames   []string `json:"usedBridgeNames"`
	TotalUserTx       int      `json:"totalUserTx"`
	TotalGasFeesInUsd float64  `json:"totalGasFeesInUsd"`
	ServiceTime       int      `json:"serviceTime"`
	UserTxs           []userTx `json:"userTxs"`
}

type quoteResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Routes    []json.RawMessage `json:"routes"`
		FromAsset asset             `json:"fromAsset"`
		ToAsset   asset             `json:"toAsset"`
	} `json:"result"`
}

type buildTxRequest struct {
	Route json.RawMessage `json:"route"`
}

type buildTxResponse struct {
	Success bool `json:"success"`
	Result  struct {
		TxData       string `json:"txData"`
		TxTarget     string `json:"txTarget"`
		ChainID      uint64 `json:"chainId"`
		Value        string `json:"value"`
		ApprovalData *struct {
			MinimumApprovalAmount string `json:"minimumApprovalAmount"`
			ApprovalTokenAddress  string `json:"approvalTokenAddress"`
			AllowanceTarget       string `json:"allowanceTarget"`
		} `json:"approvalData"`
	} `json:"result"`
}

type statusResponse struct {
	Success bool `json:"success"`
	Result  struct {
		SourceTxStatus      string `json:"sourceTxStatus"`
		DestinationTxStatus string `json:"destinationTxStatus"`
		DestinationTx       string `json:"destinationTransactionHash"`
		ToChainID           uint64 `json:"toChainId"`
	} `json:"result"`
}

// Config for the Socket adapter
type Config struct {
	APIURL     string
	APIKey     string
	Timeout    time.Duration
	Limits     *ratelimit.Registry
	HTTPClient *http.Client
	Now        bridges.Clock
}

// Provider implements bridges.Provider for Socket
type Provider struct {
	client *upstream.Client
	quotes *bridges.Cache[bridges.Quote]
	// raw routes by quote id, needed to build the transaction
	routes *bridges.Cache[json.RawMessage]
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
	var headers map[string]string
	if cfg.APIKey != "" {
		headers = map[string]string{"API-KEY": cfg.APIKey}
	}
	return &Provider{
		client: upstream.New(upstream.Config{
			Name:       Name,
			BaseURL:    cfg.APIURL,
			Timeout:    cfg.Timeout,
			Headers:    headers,
			Limits:     cfg.Limits,
			HTTPClient: cfg.HTTPClient,
		}),
		quotes: bridges.NewCache[bridges.Quote](bridges.DefaultQuoteCacheTTL, now),
		routes: bridges.NewCache[json.RawMessage](bridges.QuoteTTL, now),
		now:    now,
	}
}

// Name implements bridges.Provider
func (p *Provider) Name() string {
	return Name
}

// SupportsRoute is true between any two chains Socket covers. Token support is
// only known once a quote is requested.
func (p *Provider) SupportsRoute(_ context.Context, src, dst chains.Chain, _ string) (bool, error) {
	return supportedChains[src] && supportedChains[dst] && src != dst, nil
}

// GetQuote takes the best output route from /quote
func (p *Provider) GetQuote(ctx context.Context, req bridges.QuoteRequest) (*bridges.Quote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, nil
	}
	if ok, _ := p.SupportsRoute(ctx, req.SourceChain, req.DestinationChain, req.SourceToken); !ok {
		return nil, nil
	}

	cacheKey := bridges.QuoteKey(Name, req)
	if cached, ok := p.quotes.Get(cacheKey); ok {
		q := bridges.CloneQuote(cached)
		return &q, nil
	}

	srcID, _ := chains.ChainID(req.SourceChain)
	dstID, _ := chains.ChainID(req.DestinationChain)

	query := url.Values{}
	query.Set("fromChainId", strconv.FormatUint(srcID, 10))
	query.Set("toChainId", strconv.FormatUint(dstID, 10))
	query.Set("fromTokenAddress", req.SourceToken)
	query.Set("toTokenAddress", req.DestinationToken)
	query.Set("fromAmount", req.Amount.String())
	query.Set("userAddress", req.Sender)
	query.Set("recipient", req.Recipient)
	query.Set("uniqueRoutesPerBridge", "true")
	query.Set("sort", "output")
	query.Set("singleTxOnly", "true")

	var resp quoteResponse
	if err := p.client.GetJSON(ctx, req.SourceChain, "/quote", query, &resp); err != nil {
		if upstream.IsClientError(err) {
			log.Debug().Err(err).Str("source", string(req.SourceChain)).Msg("Quote rejected")
			return nil, nil
		}
		return nil, err
	}
	if !resp.Success || len(resp.Result.Routes) == 0 {
		log.Debug().Str("source", string(req.SourceChain)).Str("destination", string(req.DestinationChain)).Msg("No routes available")
		return nil, nil
	}

	// sorted by output, first is best
	raw := resp.Result.Routes[0]
	var best route
	if err := json.Unmarshal(raw, &best); err != nil {
		return nil, fmt.Errorf("socket: failed to parse route: %w", err)
	}
	output, err := bridges.ParseAmount(best.ToAmount)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if output.Sign() <= 0 {
		return nil, nil
	}

	// fees are only comparable when both sides use the same decimals
	bridgeFee := new(big.Int)
	if resp.Result.FromAsset.Decimals == resp.Result.ToAsset.Decimals {
		if diff := new(big.Int).Sub(req.Amount, output); diff.Sign() > 0 {
			bridgeFee = diff
		}
	}
	var gasLimit uint64
	for _, tx := range best.UserTxs {
		gasLimit += tx.GasFees.GasLimit
	}

	now := p.now()
	quote := bridges.Quote{
		ID:                   fmt.Sprintf("socket-%s-%s-%d-%s", req.SourceChain, req.DestinationChain, now.UnixMilli(), uuid.NewString()[:6]),
		Provider:             Name,
		SourceChain:          req.SourceChain,
		DestinationChain:     req.DestinationChain,
		SourceToken:          req.SourceToken,
		DestinationToken:     req.DestinationToken,
		InputAmount:          new(big.Int).Set(req.Amount),
		OutputAmount:         output,
		MinOutputAmount:      bridges.ApplySlippage(output, req.SlippageBps),
		Fees:                 bridges.Fees{BridgeFee: bridgeFee, GasFee: new(big.Int), RelayerFee: new(big.Int)},
		EstimatedTimeSeconds: best.ServiceTime,
		ExpiresAt:            now.Add(bridges.QuoteTTL),
		Extra: map[string]string{
			"routeId":  best.RouteID,
			"bridges":  strings.Join(best.UsedBridgeNames, ","),
			"gasLimit": strconv.FormatUint(gasLimit, 10),
			"gasUsd":   strconv.FormatFloat(best.TotalGasFeesInUsd, 'f', -1, 64),
		},
	}
	p.quotes.Set(cacheKey, quote)
	p.routes.Set(quote.ID, raw)

	out := bridges.CloneQuote(quote)
	return &out, nil
}

// BuildTransaction posts the quoted route to /build-tx
func (p *Provider) BuildTransaction(ctx context.Context, quote bridges.Quote, sender, recipient string) (*bridges.TxRequest, error) {
	if quote.Provider != Name || !p.now().Before(quote.ExpiresAt) {
		return nil, bridges.ErrQuoteNotFound
	}
	raw, ok := p.routes.Get(quote.ID)
	if !ok {
		return nil, bridges.ErrQuoteNotFound
	}
	if !common.IsHexAddress(sender) || !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("socket: invalid sender or recipient address")
	}
	srcID, err := chains.ChainID(quote.SourceChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridges.ErrUnsupportedChain, err)
	}

	var resp buildTxResponse
	if err := p.client.PostJSON(ctx, quote.SourceChain, "/build-tx", buildTxRequest{Route: raw}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("socket: failed to build transaction")
	}
	result := resp.Result
	if result.ChainID != 0 && result.ChainID != srcID {
		return nil, fmt.Errorf("socket: transaction is for chain %d, expected %d", result.ChainID, srcID)
	}
	if !common.IsHexAddress(result.TxTarget) {
		return nil, fmt.Errorf("socket: invalid transaction target %q", result.TxTarget)
	}
	data, err := hexutil.Decode(result.TxData)
	if err != nil {
		return nil, fmt.Errorf("socket: invalid transaction data: %w", err)
	}
	value := new(big.Int)
	if result.Value != "" {
		if _, ok := value.SetString(result.Value, 0); !ok {
			return nil, fmt.Errorf("socket: invalid transaction value %q", result.Value)
		}
	}

	gasLimit, _ := strconv.ParseUint(quote.Extra["gasLimit"], 10, 64)
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	tx := &bridges.TxRequest{
		Chain:    quote.SourceChain,
		To:       result.TxTarget,
		Data:     data,
		Value:    value,
		GasLimit: gasLimit,
	}
	if a := result.ApprovalData; a != nil {
		amount, err := bridges.ParseAmount(a.MinimumApprovalAmount)
		if err != nil {
			return nil, fmt.Errorf("socket: invalid approval amount: %w", err)
		}
		tx.Approval = &bridges.Approval{
			Token:   a.ApprovalTokenAddress,
			Spender: a.AllowanceTarget,
			Amount:  amount,
		}
	}
	return tx, nil
}

// GetStatus queries /bridge-status by source transaction hash
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
	query.Set("transactionHash", txHash)
	query.Set("fromChainId", strconv.FormatUint(srcID, 10))

	var resp statusResponse
	if err := p.client.GetJSON(ctx, sourceChain, "/bridge-status", query, &resp); err != nil {
		if upstream.IsClientError(err) {
			return receipt, nil
		}
		return nil, err
	}
	if !resp.Success {
		return receipt, nil
	}

	receipt.Status = mapStatus(resp.Result.SourceTxStatus, resp.Result.DestinationTxStatus)
	if dst, ok := chains.ByChainID(resp.Result.ToChainID); ok {
		receipt.DestinationChain = dst
	}
	receipt.DestinationTxHash = resp.Result.DestinationTx
	return receipt, nil
}

func mapStatus(source, destination string) bridges.Status {
	source = strings.ToUpper(source)
	destination = strings.ToUpper(destination)
	switch {
	case destination == "COMPLETED":
		return bridges.StatusCompleted
	case source == "FAILED" || destination == "FAILED":
		return bridges.StatusFailed
	case source == "COMPLETED":
		return bridges.StatusBridging
	case source == "PENDING":
		return bridges.StatusPendingSource
	}
	return bridges.StatusPending
}
