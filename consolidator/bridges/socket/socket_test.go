package socket_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges/socket"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/zeebo/assert"
)

const (
	arbUSDC  = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	baseUSDC = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	user     = "0x1111111111111111111111111111111111111111"
	gateway  = "0x3a23F943181408EAC424116Af7b7790c94Cb97a5"
)

const routesBody = `{"success":true,"result":{
	"fromAsset":{"chainId":42161,"address":"0xaf88d065e77c8cC2239327C5EDb3A432268e5831","symbol":"USDC","decimals":6},
	"toAsset":{"chainId":8453,"address":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","symbol":"USDC","decimals":6},
	"routes":[
		{"routeId":"r-best","fromAmount":"10000000","toAmount":"9985000","usedBridgeNames":["cctp"],"totalUserTx":1,"totalGasFeesInUsd":0.12,"serviceTime":90,"userTxs":[{"txType":"fund-movr","chainId":42161,"gasFees":{"gasLimit":350000}}]},
		{"routeId":"r-second","fromAmount":"10000000","toAmount":"9900000","usedBridgeNames":["hop"],"serviceTime":300,"userTxs":[]}
	]}}`

type fakeSocket struct {
	quoteCalls  atomic.Int32
	apiKey      atomic.Value
	builtRoute  atomic.Value
	emptyRoutes bool
	buildChain  uint64
	status      string
}

func (f *fakeSocket) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		f.quoteCalls.Add(1)
		f.apiKey.Store(r.Header.Get("API-KEY"))
		q := r.URL.Query()
		assert.Equal(t, q.Get("fromChainId"), "42161")
		assert.Equal(t, q.Get("toChainId"), "8453")
		assert.Equal(t, q.Get("sort"), "output")
		if f.emptyRoutes {
			_, _ = w.Write([]byte(`{"success":true,"result":{"routes":[]}}`))
			return
		}
		_, _ = w.Write([]byte(routesBody))
	})
	mux.HandleFunc("/build-tx", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, http.MethodPost)
		var body struct {
			Route struct {
				RouteID string `json:"routeId"`
			} `json:"route"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.builtRoute.Store(body.Route.RouteID)
		chainID := f.buildChain
		if chainID == 0 {
			chainID = 42161
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result": map[string]any{
				"txData":   "0xdeadbeef",
				"txTarget": gateway,
				"chainId":  chainID,
				"value":    "0x00",
				"approvalData": map[string]string{
					"minimumApprovalAmount": "10000000",
					"approvalTokenAddress":  arbUSDC,
					"allowanceTarget":       gateway,
				},
			},
		})
	})
	mux.HandleFunc("/bridge-status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Query().Get("fromChainId"), "42161")
		_, _ = w.Write([]byte(f.status))
	})
	return mux
}

func newProvider(t *testing.T, f *fakeSocket) (*socket.Provider, func()) {
	srv := httptest.NewServer(f.handler(t))
	now := func() time.Time { return time.Unix(1_700_000_100, 0) }
	return socket.New(socket.Config{APIURL: srv.URL, APIKey: "key", Now: now}), srv.Close
}

func quoteRequest() bridges.QuoteRequest {
	return bridges.QuoteRequest{
		SourceChain:      chains.Arbitrum,
		DestinationChain: chains.Base,
		SourceToken:      arbUSDC,
		DestinationToken: baseUSDC,
		Amount:           big.NewInt(10_000_000),
		Sender:           user,
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
	p := socket.New(socket.Config{})
	ctx := context.Background()

	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Arbitrum, chains.Base, arbUSDC)), "yes")
	assert.Equal(t, support(p.SupportsRoute(ctx, chains.BSC, chains.Linea, arbUSDC)), "yes")
	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Solana, chains.Base, arbUSDC)), "no")
	assert.Equal(t, support(p.SupportsRoute(ctx, chains.Base, chains.Base, baseUSDC)), "no")
}

func TestGetQuotePicksFirstRoute(t *testing.T) {
	f := &fakeSocket{}
	p, closeFn := newProvider(t, f)
	defer closeFn()

	q, err := p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)
	assert.NotNil(t, q)
	assert.Equal(t, q.Provider, socket.Name)
	assert.Equal(t, q.OutputAmount.String(), "9985000")
	assert.Equal(t, q.MinOutputAmount.String(), "9935075")
	assert.Equal(t, q.Fees.Total().String(), "15000")
	assert.Equal(t, q.EstimatedTimeSeconds, 90)
	assert.Equal(t, q.Extra["routeId"], "r-best")
	assert.Equal(t, q.Extra["bridges"], "cctp")
	assert.Equal(t, f.apiKey.Load(), any("key"))

	_, err = p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)
	assert.Equal(t, f.quoteCalls.Load(), int32(1))
}

func TestGetQuoteWithoutRoutes(t *testing.T) {
	p, closeFn := newProvider(t, &fakeSocket{emptyRoutes: true})
	defer closeFn()

	q, err := p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)
	assert.True(t, q == nil)
}

func TestBuildTransactionUsesQuotedRoute(t *testing.T) {
	f := &fakeSocket{}
	p, closeFn := newProvider(t, f)
	defer closeFn()

	q, err := p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)

	tx, err := p.BuildTransaction(context.Background(), *q, user, user)
	assert.NoError(t, err)
	assert.Equal(t, f.builtRoute.Load(), any("r-best"))
	assert.Equal(t, tx.To, gateway)
	assert.Equal(t, tx.Chain, chains.Arbitrum)
	assert.Equal(t, tx.Data, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.Equal(t, tx.Value.Sign(), 0)
	assert.Equal(t, tx.GasLimit, uint64(350_000))
	assert.NotNil(t, tx.Approval)
	assert.Equal(t, tx.Approval.Spender, gateway)
	assert.Equal(t, tx.Approval.Amount.String(), "10000000")
}

func TestBuildTransactionRejectsWrongChain(t *testing.T) {
	p, closeFn := newProvider(t, &fakeSocket{buildChain: 10})
	defer closeFn()

	q, err := p.GetQuote(context.Background(), quoteRequest())
	assert.NoError(t, err)
	_, err = p.BuildTransaction(context.Background(), *q, user, user)
	assert.Error(t, err)
}

func TestBuildTransactionUnknownQuote(t *testing.T) {
	p := socket.New(socket.Config{Now: func() time.Time { return time.Unix(1_700_000_100, 0) }})
	q := bridges.Quote{ID: "socket-x", Provider: socket.Name, SourceChain: chains.Arbitrum, ExpiresAt: time.Unix(1_700_000_400, 0)}
	_, err := p.BuildTransaction(context.Background(), q, user, user)
	assert.True(t, err == bridges.ErrQuoteNotFound)
}

func TestGetStatusMapping(t *testing.T) {
	cases := []struct {
		source, destination string
		want                bridges.Status
	}{
		{"COMPLETED", "COMPLETED", bridges.StatusCompleted},
		{"COMPLETED", "PENDING", bridges.StatusBridging},
		{"PENDING", "PENDING", bridges.StatusPendingSource},
		{"COMPLETED", "FAILED", bridges.StatusFailed},
		{"", "", bridges.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.source+"/"+tc.destination, func(t *testing.T) {
			body := `{"success":true,"result":{"sourceTxStatus":"` + tc.source + `","destinationTxStatus":"` + tc.destination + `","destinationTransactionHash":"0xdst","toChainId":8453}}`
			p, closeFn := newProvider(t, &fakeSocket{status: body})
			defer closeFn()

			r, err := p.GetStatus(context.Background(), "0xabc", chains.Arbitrum)
			assert.NoError(t, err)
			assert.Equal(t, r.Status, tc.want)
			assert.Equal(t, r.DestinationChain, chains.Base)
		})
	}
}
