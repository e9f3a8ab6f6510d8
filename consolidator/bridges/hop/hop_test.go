package hop_test

import (
	"bytes"
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges/hop"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeebo/assert"
)

const (
	arbUSDC  = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	opUSDC   = "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"
	ethUSDC  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	arbWETH  = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	user     = "0x1111111111111111111111111111111111111111"
	arbWrap  = "0xe22D2beDb3Eca35E6397e0C6D62857094aA26F52"
	ethL1USD = "0x3666f603Cc164936C1b87e207F36BEBa4AC5f18a"
)

type fakeHop struct {
	quoteCalls atomic.Int32
	quoteCode  int
	statusBody string
	statusCode int
}

func (f *fakeHop) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		f.quoteCalls.Add(1)
		if f.quoteCode != 0 {
			w.WriteHeader(f.quoteCode)
			return
		}
		assert.Equal(t, r.URL.Query().Get("token"), "USDC")
		assert.Equal(t, r.URL.Query().Get("toChain"), "optimism")
		assert.Equal(t, r.URL.Query().Get("slippage"), "0.5")
		_, _ = w.Write([]byte(`{"amountOut":"9960000","amountOutMin":"9910200","bonderFee":"25000","destinationTxFee":"15000","deadline":1700001900}`))
	})
	mux.HandleFunc("/transfer-status", func(w http.ResponseWriter, r *http.Request) {
		if f.statusCode != 0 {
			w.WriteHeader(f.statusCode)
			return
		}
		assert.Equal(t, r.URL.Query().Get("transactionHash"), "0xabc")
		_, _ = w.Write([]byte(f.statusBody))
	})
	return mux
}

func newProvider(t *testing.T, f *fakeHop) (*hop.Provider, func()) {
	srv := httptest.NewServer(f.handler(t))
	now := func() time.Time { return time.Unix(1_700_000_100, 0) }
	return hop.New(hop.Config{APIURL: srv.URL, Now: now}), srv.Close
}

func quoteRequest() bridges.QuoteRequest {
	return bridges.QuoteRequest{
		SourceChain:      chains.Arbitrum,
		DestinationChain: chains.Optimism,
		SourceToken:      arbUSDC,
		DestinationToken: opUSDC,
		Amount:           big.NewInt(10_000_000),
		Recipient:        user,
	}
}

// support renders a SupportsRoute answer for comparison
func support(ok bool, err error) string {
	switch {
	case err != nil:
		return "error: " + err.Error()
	case ok:
		return "yes"
	}
	return "no"
}

func TestSupportsRoute(t *testing.T) {
	p := hop.New(hop.Config{})
	ctx := context.Background()

	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Arbitrum, chains.Optimism, arbUSDC)), "yes")
	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Arbitrum, chains.Ethereum, chains.NativeTokenAddress)), "yes")
	// Hop bridges native ETH only
	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Arbitrum, chains.Optimism, arbWETH)), "no")
	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Arbitrum, chains.Base, arbUSDC)), "no")
	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Arbitrum, chains.Arbitrum, arbUSDC)), "no")
}

func TestGetQuote(t *testing.T) {
	f := &fakeHop{}
	p, closeFn := newProvider(t, f)
	defer closeFn()

	q, err := p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)
	assert.NotNil(t, q)
	assert.Equal(t, q.Provider, hop.Name)
	assert.Equal(t, q.OutputAmount.String(), "9960000")
	assert.Equal(t, q.MinOutputAmount.String(), "9910200")
	assert.Equal(t, q.Fees.Total().String(), "40000")
	assert.Equal(t, q.Contract, arbWrap)
	assert.Equal(t, q.EstimatedTimeSeconds, 180)
	assert.Equal(t, q.ExpiresAt, time.Unix(1_700_000_100, 0).Add(bridges.QuoteTTL))

	_, err = p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)
	assert.Equal(t, f.quoteCalls.Load(), int32(1))
}

func TestGetQuoteUnsupportedRouteMakesNoRequest(t *testing.T) {
	f := &fakeHop{}
	p, closeFn := newProvider(t, f)
	defer closeFn()

	req := quoteRequest()
	req.DestinationChain = chains.Base
	q, err := p.GetQuote(context.Background(), req)
	assert.NoError(t, err)
	assert.True(t, q == nil)
	assert.Equal(t, f.quoteCalls.Load(), int32(0))
}

func TestGetQuoteErrors(t *testing.T) {
	p, closeFn := newProvider(t, &fakeHop{quoteCode: http.StatusBadRequest})
	defer closeFn()
	q, err := p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)
	assert.True(t, q == nil)

	p, closeFn = newProvider(t, &fakeHop{quoteCode: http.StatusBadGateway})
	defer closeFn()
	_, err = p.GetQuote(context.Background(), quoteRequest())
	assert.Error(t, err)
}

func TestBuildTransactionFromL2(t *testing.T) {
	p, closeFn := newProvider(t, &fakeHop{})
	defer closeFn()

	q, err := p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)

	tx, err := p.BuildTransaction(context.Background(), *q, user, user)
	assert.NoError(t, err)
	selector := crypto.Keccak256([]byte("swapAndSend(uint256,address,uint256,uint256,uint256,uint256,uint256,uint256)"))[:4]
	assert.True(t, bytes.HasPrefix(tx.Data, selector))
	assert.Equal(t, tx.To, arbWrap)
	assert.Equal(t, tx.Chain, chains.Arbitrum)
	assert.Equal(t, tx.Value.Sign(), 0)
	assert.NotNil(t, tx.Approval)
	assert.Equal(t, tx.Approval.Spender, arbWrap)
	assert.Equal(t, tx.Approval.Amount.String(), "10000000")
}

func TestBuildTransactionFromL1(t *testing.T) {
	p := hop.New(hop.Config{Now: func() time.Time { return time.Unix(1_700_000_100, 0) }})
	q := bridges.Quote{
		Provider:         hop.Name,
		SourceChain:      chains.Ethereum,
		DestinationChain: chains.Arbitrum,
		SourceToken:      ethUSDC,
		DestinationToken: arbUSDC,
		InputAmount:      big.NewInt(5_000_000),
		MinOutputAmount:  big.NewInt(4_900_000),
		ExpiresAt:        time.Unix(1_700_000_200, 0),
		Extra:            map[string]string{"symbol": "USDC", "bonderFee": "0"},
	}

	tx, err := p.BuildTransaction(context.Background(), q, user, user)
	assert.NoError(t, err)
	selector := crypto.Keccak256([]byte("sendToL2(uint256,address,uint256,uint256,uint256,address,uint256)"))[:4]
	assert.True(t, bytes.HasPrefix(tx.Data, selector))
	assert.Equal(t, tx.To, ethL1USD)
}

func TestBuildTransactionRejectsExpiredQuote(t *testing.T) {
	p := hop.New(hop.Config{Now: func() time.Time { return time.Unix(1_700_000_100, 0) }})
	q := bridges.Quote{
		Provider:    hop.Name,
		SourceChain: chains.Arbitrum,
		ExpiresAt:   time.Unix(1_700_000_000, 0),
		Extra:       map[string]string{"symbol": "USDC"},
	}
	_, err := p.BuildTransaction(context.Background(), q, user, user)
	assert.True(t, err == bridges.ErrQuoteNotFound)

	_, err = p.BuildTransaction(context.Background(), bridges.Quote{Provider: "across"}, user, user)
	assert.True(t, err == bridges.ErrQuoteNotFound)
}

func TestGetStatus(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bridges.Status
	}{
		{"bonded", `{"transferId":"0xt","transactionHash":"0xabc","destinationChainId":10,"amount":"10000000","bonderFee":"25000","bonded":true,"bondTransactionHash":"0xbond"}`, bridges.StatusCompleted},
		{"sent", `{"transferId":"0xt","transactionHash":"0xabc","destinationChainId":10,"amount":"10000000","bonded":false}`, bridges.StatusBridging},
		{"unknown", `{}`, bridges.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, closeFn := newProvider(t, &fakeHop{statusBody: tc.body})
			defer closeFn()

			r, err := p.GetStatus(context.Background(), "0xabc", chains.Arbitrum)
			assert.NoError(t, err)
			assert.Equal(t, r.Status, tc.want)
		})
	}
}

func TestGetStatusBondedDetails(t *testing.T) {
	p, closeFn := newProvider(t, &fakeHop{statusBody: `{"transferId":"0xt","transactionHash":"0xabc","destinationChainId":10,"amount":"10000000","bonderFee":"25000","bonded":true,"bondTransactionHash":"0xbond"}`})
	defer closeFn()

	r, err := p.GetStatus(context.Background(), "0xabc", chains.Arbitrum)
	assert.NoError(t, err)
	assert.Equal(t, r.DestinationChain, chains.Optimism)
	assert.Equal(t, r.DestinationTxHash, "0xbond")
	assert.Equal(t, r.DepositID, "0xt")
	assert.Equal(t, r.OutputAmount.String(), "9975000")
}

func TestGetStatusNotIndexedIsPending(t *testing.T) {
	p, closeFn := newProvider(t, &fakeHop{statusCode: http.StatusNotFound})
	defer closeFn()

	r, err := p.GetStatus(context.Background(), "0xabc", chains.Arbitrum)
	assert.NoError(t, err)
	assert.Equal(t, r.Status, bridges.StatusPending)

	p, closeFn = newProvider(t, &fakeHop{statusCode: http.StatusServiceUnavailable})
	defer closeFn()
	_, err = p.GetStatus(context.Background(), "0xabc", chains.Arbitrum)
	assert.Error(t, err)
}
