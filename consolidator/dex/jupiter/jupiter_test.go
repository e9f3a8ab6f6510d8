package jupiter_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex/jupiter"
	"github.com/zeebo/assert"
)

const (
	bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	user = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func newServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Query().Get("slippageBps"), "100")
		if r.URL.Query().Get("inputMint") == jupiter.NativeMint {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"COULD_NOT_FIND_ANY_ROUTE"}`))
			return
		}
		_, _ = w.Write([]byte(`{"inputMint":"` + bonk + `","inAmount":"1000000","outputMint":"` + usdc + `","outAmount":"3000000","otherAmountThreshold":"2970000","priceImpactPct":"0.002","routePlan":[{"swapInfo":{"label":"Orca"},"percent":100}]}`))
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, http.MethodPost)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, body["userPublicKey"], user)
		quote, ok := body["quoteResponse"].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, quote["outAmount"], "3000000")
		_, _ = w.Write([]byte(`{"swapTransaction":"` + base64.StdEncoding.EncodeToString([]byte("versioned-tx")) + `","lastValidBlockHeight":100}`))
	})
	return httptest.NewServer(mux)
}

func TestQuote(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	a := jupiter.New(jupiter.Config{APIURL: srv.URL})

	q, err := a.GetQuote(context.Background(), dex.QuoteRequest{
		Chain: chains.Solana, TokenIn: bonk, TokenOut: usdc, Amount: big.NewInt(1_000_000),
	})
	assert.NoError(t, err)
	assert.Equal(t, q.AmountOut.String(), "3000000")
	assert.Equal(t, q.MinAmountOut.String(), "2970000")
	assert.Equal(t, q.PriceImpactBps, uint32(20))
	assert.False(t, q.HasCalldata())
}

func TestQuoteWithCalldataDecodesTransaction(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	a := jupiter.New(jupiter.Config{APIURL: srv.URL})

	q, err := a.GetQuote(context.Background(), dex.QuoteRequest{
		Chain: chains.Solana, TokenIn: bonk, TokenOut: usdc, Amount: big.NewInt(1_000_000), From: user, IncludeCalldata: true,
	})
	assert.NoError(t, err)
	data, err := a.BuildCalldata(*q)
	assert.NoError(t, err)
	assert.Equal(t, string(data), "versioned-tx")
}

func TestNoRoute(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	a := jupiter.New(jupiter.Config{APIURL: srv.URL})

	q, err := a.GetQuote(context.Background(), dex.QuoteRequest{
		Chain: chains.Solana, TokenIn: "SOL", TokenOut: usdc, Amount: big.NewInt(1),
	})
	assert.NoError(t, err)
	assert.True(t, q == nil)
}

func TestOnlySolana(t *testing.T) {
	a := jupiter.New(jupiter.Config{})
	assert.False(t, a.SupportsChain(chains.Base))

	q, err := a.GetQuote(context.Background(), dex.QuoteRequest{Chain: chains.Base, Amount: big.NewInt(1)})
	assert.NoError(t, err)
	assert.True(t, q == nil)
}
