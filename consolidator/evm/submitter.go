// Package evm relays consolidation transactions to EVM JSON-RPC endpoints and
// watches their receipts.
//
// Transactions are sent with eth_sendTransaction together with the user's
// permit signature. The endpoint is expected to be a relayer that holds the
// user's delegated authorisation; this service never holds private keys.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/upstream"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "evm").Logger()
}

var (
	// ErrReverted is returned for mined transactions with status 0
	ErrReverted = errors.New("transaction reverted")
	// ErrReceiptNotFound is returned while a transaction is not mined yet
	ErrReceiptNotFound = errors.New("transaction receipt not found")
	// ErrNoEndpoint is returned for chains without a configured RPC endpoint
	ErrNoEndpoint = errors.New("no rpc endpoint for chain")
)

// RateLimitKey is the limiter name shared by every RPC call of a chain
const RateLimitKey = "rpc"

// Transaction is an unsigned transaction authorised by the user's permit signature
type Transaction struct {
	Chain     chains.Chain
	From      string
	To        string
	Data      []byte
	Value     *big.Int
	GasLimit  uint64
	Signature string
}

// Receipt is the mined outcome of a successful transaction
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

const erc20ApproveABI = `[{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

var parsedERC20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
	}
	return parsed
}()

// ApproveCalldata encodes ERC20 approve(spender, amount)
func ApproveCalldata(spender string, amount *big.Int) ([]byte, error) {
	if !common.IsHexAddress(spender) {
		return nil, fmt.Errorf("invalid spender address %q", spender)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid approval amount")
	}
	return parsedERC20ABI.Pack("approve", common.HexToAddress(spender), amount)
}

type chainClient struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// Submitter sends transactions and fetches receipts, one RPC client per chain
type Submitter struct {
	clients map[chains.Chain]chainClient
	limits  *ratelimit.Registry
}

// NewSubmitter wraps already dialled RPC clients
func NewSubmitter(clients map[chains.Chain]*rpc.Client, limits *ratelimit.Registry) *Submitter {
	s := &Submitter{
		clients: make(map[chains.Chain]chainClient, len(clients)),
		limits:  limits,
	}
	for chain, c := range clients {
		s.clients[chain] = chainClient{rpc: c, eth: ethclient.NewClient(c)}
	}
	return s
}

// Dial connects to every endpoint. Chains that fail to dial are an error,
// a half configured submitter would fail chains at execution time instead.
func Dial(ctx context.Context, endpoints map[chains.Chain]string, limits *ratelimit.Registry) (*Submitter, error) {
	clients := make(map[chains.Chain]*rpc.Client, len(endpoints))
	for chain, url := range endpoints {
		if _, err := chains.ChainID(chain); err != nil {
			closeAll(clients)
			return nil, err
		}
		c, err := rpc.DialContext(ctx, url)
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("failed to dial %s rpc: %w", chain, err)
		}
		clients[chain] = c
		log.Info().Str("chain", string(chain)).Msg("Connected to rpc endpoint")
	}
	return NewSubmitter(clients, limits), nil
}

func closeAll(clients map[chains.Chain]*rpc.Client) {
	for _, c := range clients {
		c.Close()
	}
}

// Close releases every RPC connection
func (s *Submitter) Close() {
	for _, c := range s.clients {
		c.rpc.Close()
	}
}

// Chains returns the chains with an endpoint
func (s *Submitter) Chains() []chains.Chain {
	out := make([]chains.Chain, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Submitter) client(chain chains.Chain) (chainClient, error) {
	c, ok := s.clients[chain]
	if !ok {
		return chainClient{}, fmt.Errorf("%w: %s", ErrNoEndpoint, chain)
	}
	return c, nil
}

type sendArgs struct {
	From      common.Address  `json:"from"`
	To        common.Address  `json:"to"`
	Data      hexutil.Bytes   `json:"data"`
	Value     *hexutil.Big    `json:"value,omitempty"`
	Gas       *hexutil.Uint64 `json:"gas,omitempty"`
	Signature string          `json:"signature"`
}

// Submit sends tx and returns its hash
func (s *Submitter) Submit(ctx context.Context, tx Transaction) (string, error) {
	c, err := s.client(tx.Chain)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(tx.From) || !common.IsHexAddress(tx.To) {
		return "", fmt.Errorf("invalid transaction addresses from=%q to=%q", tx.From, tx.To)
	}
	if err := s.limits.Wait(ctx, RateLimitKey, tx.Chain); err != nil {
		return "", err
	}

	args := sendArgs{
		From:      common.HexToAddress(tx.From),
		To:        common.HexToAddress(tx.To),
		Data:      tx.Data,
		Signature: tx.Signature,
	}
	if tx.Value != nil && tx.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(tx.Value)
	}
	if tx.GasLimit > 0 {
		gas := hexutil.Uint64(tx.GasLimit)
		args.Gas = &gas
	}

	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return "", fmt.Errorf("eth_sendTransaction on %s: %w", tx.Chain, rpcError(tx.Chain, err))
	}
	log.Debug().Str("chain", string(tx.Chain)).Str("to", tx.To).Str("hash", hash.Hex()).Msg("Transaction submitted")
	return hash.Hex(), nil
}

// Receipt returns ErrReceiptNotFound while txHash is pending and ErrReverted
// when it was mined but failed
func (s *Submitter) Receipt(ctx context.Context, chain chains.Chain, txHash string) (*Receipt, error) {
	c, err := s.client(chain)
	if err != nil {
		return nil, err
	}
	if err := s.limits.Wait(ctx, RateLimitKey, chain); err != nil {
		return nil, err
	}

	r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	switch {
	case errors.Is(err, ethereum.NotFound):
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, txHash)
	case err != nil:
		return nil, fmt.Errorf("receipt of %s on %s: %w", txHash, chain, rpcError(chain, err))
	case r.Status == types.ReceiptStatusFailed:
		return nil, fmt.Errorf("%w: %s on %s", ErrReverted, txHash, chain)
	}

	receipt := &Receipt{TxHash: r.TxHash.Hex(), GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	return receipt, nil
}

// rpcError maps HTTP transport failures onto upstream.APIError so retry
// classification treats RPC nodes like every other upstream
func rpcError(chain chains.Chain, err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return &upstream.APIError{
			Provider:   "rpc-" + string(chain),
			StatusCode: httpErr.StatusCode,
			Body:       string(httpErr.Body),
		}
	}
	return err
}
