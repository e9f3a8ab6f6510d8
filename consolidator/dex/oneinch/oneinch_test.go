package oneinch_test

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex/oneinch"
	"github.com/zeebo/assert"
)

const (
	token = "0x4200000000000000000000000000000000000042"
	usdc  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	user  = "0x4444444444444444444444444444444444444444"
)

func newServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/swap/v6.0/8453/quote", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Header.Get("Authorization"), "Bearer key")
		if r.URL.Query().Get("src") == "0xdead" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"description":"insufficient liquidity"}`))
			return
		}
		_, _ = w.Write([]byte(`{"dstAmount":"2500000","gas":180000}`))
	})
	mux.HandleFunc("/swap/v6.0/8453/swap", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Query().Get("from"), user)
		assert.Equal(t, r.URL.Query().Get("slippage"), "1")
		_, _ = w.Write([]byte(`{"dstAmount":"2500000","tx":{"to":"0x111111125421cA6dc452d289314280a0f8842A65","data":"0x12aa3caf","value":"0","gas":210000}}`))
	})
	return httptest.NewServer(mux)
}

func newAggregator(url string) *oneinch.Aggregator {
	return oneinch.New(oneinch.Config{
		APIURL: url,
		APIKey: "key",
		Now:    func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
}

func TestQuoteWithoutCalldata(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	a := newAggregator(srv.URL)

	q, err := a.GetQuote(context.Background(), dex.QuoteRequest{
		Chain: chains.Base, TokenIn: token, TokenOut: usdc, Amount: big.NewInt(1e18),
	})
	assert.NoError(t, err)
	assert.Equal(t, q.AmountOut.String(), "2500000")
	assert.Equal(t, q.MinAmountOut.String(), "2475000")
	assert.Equal(t, q.EstimatedGas, uint64(180000))
	assert.Equal(t, q.ExpiresAt, time.Unix(1_700_000_030, 0))
	assert.False(t, q.HasCalldata())

	_, err = a.BuildCalldata(*q)
	assert.True(t, errors.Is(err, dex.ErrCalldataNotIncluded))
}

func TestQuoteWithCalldata(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	a := newAggregator(srv.URL)

	q, err := a.GetQuote(context.Background(), dex.QuoteRequest{
		Chain: chains.Base, TokenIn: token, TokenOut: usdc, Amount: big.NewInt(1e18), From: user, IncludeCalldata: true,
	})
	assert.NoError(t, err)
	data, err := a.BuildCalldata(*q)
	assert.NoError(t, err)
	assert.DeepEqual(t, data, []byte{0x12, 0xaa, 0x3c, 0xaf})
	assert.Equal(t, q.Router, "0x111111125421cA6dc452d289314280a0f8842A65")
}

func TestNoLiquidityIsNoRoute(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	a := newAggregator(srv.URL)

	q, err := a.GetQuote(context.Background(), dex.QuoteRequest{
		Chain: chains.Base, TokenIn: "0xdead", TokenOut: usdc, Amount: big.NewInt(1),
	})
	assert.NoError(t, err)
	assert.True(t, q == nil)
}

func TestSupportsOnlyEVM(t *testing.T) {
	a := newAggregator("http://unused")
	assert.True(t, a.SupportsChain(chains.Arbitrum))
	assert.False(t, a.SupportsChain(chains.Solana))
}
