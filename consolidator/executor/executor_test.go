package executor_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/evm"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/executor"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/upstream"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

var now = time.Unix(1_700_000_000, 0)

func clock() time.Time { return now }

const (
	user      = "0x1111111111111111111111111111111111111111"
	baseUSDC  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	arbUSDC   = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	arbToken  = "0x912CE59144191C1204E64559FE8253a0e49E6548"
	degen     = "0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed"
	router    = "0x111111125421cA6dc452d289314280a0f8842A65"
	spokePool = "0xe35e9842fceaCA96570B734083f4a58e8F7C5f2A"
)

type mockAggregator struct {
	mu       sync.Mutex
	requests []dex.QuoteRequest
	getQuote func(ctx context.Context, req dex.QuoteRequest) (*dex.Quote, error)
}

func (m *mockAggregator) Name() string { return "mockdex" }

func (m *mockAggregator) SupportsChain(chains.Chain) bool { return true }

func (m *mockAggregator) GetQuote(ctx context.Context, req dex.QuoteRequest) (*dex.Quote, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.getQuote == nil {
		return nil, nil
	}
	return m.getQuote(ctx, req)
}

func (m *mockAggregator) BuildCalldata(q dex.Quote) ([]byte, error) {
	if !q.HasCalldata() {
		return nil, dex.ErrCalldataNotIncluded
	}
	return q.Calldata, nil
}

type mockProvider struct {
	mu     sync.Mutex
	builds int
	polls  int
	status func(poll int) *bridges.Receipt
}

func (m *mockProvider) Name() string { return "across" }

func (m *mockProvider) SupportsRoute(context.Context, chains.Chain, chains.Chain, string) (bool, error) {
	return true, nil
}

func (m *mockProvider) GetQuote(context.Context, bridges.QuoteRequest) (*bridges.Quote, error) {
	return nil, nil
}

func (m *mockProvider) GetStatus(_ context.Context, hash string, chain chains.Chain) (*bridges.Receipt, error) {
	m.mu.Lock()
	m.polls++
	poll := m.polls
	m.mu.Unlock()
	if m.status != nil {
		return m.status(poll), nil
	}
	if poll == 1 {
		return &bridges.Receipt{Provider: "across", Status: bridges.StatusBridging, SourceTxHash: hash, SourceChain: chain}, nil
	}
	return &bridges.Receipt{
		Provider:          "across",
		Status:            bridges.StatusCompleted,
		SourceTxHash:      hash,
		SourceChain:       chain,
		DestinationTxHash: "0xdest",
		OutputAmount:      big.NewInt(9_801_000),
	}, nil
}

func (m *mockProvider) BuildTransaction(_ context.Context, quote bridges.Quote, _, _ string) (*bridges.TxRequest, error) {
	m.mu.Lock()
	m.builds++
	m.mu.Unlock()
	return &bridges.TxRequest{
		Chain:    quote.SourceChain,
		To:       spokePool,
		Data:     []byte{0x7b, 0x93, 0x92, 0x32},
		Value:    new(big.Int),
		GasLimit: 200_000,
		Approval: &bridges.Approval{Token: quote.SourceToken, Spender: spokePool, Amount: quote.InputAmount},
	}, nil
}

type mockSubmitter struct {
	mu      sync.Mutex
	sent    []evm.Transaction
	fail    func(tx evm.Transaction) error
	receipt func(chain chains.Chain, hash string) (*evm.Receipt, error)
}

func (m *mockSubmitter) Submit(_ context.Context, tx evm.Transaction) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, tx)
	hash := fmt.Sprintf("0x%064x", len(m.sent))
	m.mu.Unlock()
	if m.fail != nil {
		if err := m.fail(tx); err != nil {
			return "", err
		}
	}
	return hash, nil
}

func (m *mockSubmitter) Receipt(_ context.Context, chain chains.Chain, hash string) (*evm.Receipt, error) {
	if m.receipt != nil {
		return m.receipt(chain, hash)
	}
	return &evm.Receipt{TxHash: hash, BlockNumber: 1}, nil
}

func (m *mockSubmitter) sentOn(chain chains.Chain) []evm.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []evm.Transaction
	for _, tx := range m.sent {
		if tx.Chain == chain {
			out = append(out, tx)
		}
	}
	return out
}

func swapQuote(chain chains.Chain, in, out string, amount int64) dex.Quote {
	return dex.Quote{
		Aggregator:   "mockdex",
		Chain:        chain,
		TokenIn:      in,
		TokenOut:     out,
		AmountIn:     big.NewInt(amount),
		AmountOut:    big.NewInt(amount),
		MinAmountOut: big.NewInt(amount * 99 / 100),
		Router:       router,
		Calldata:     []byte{0x12, 0xaa, 0x3c, 0xaf},
		ExpiresAt:    now.Add(dex.QuoteTTL),
	}
}

// fixturePlan bridges arbitrum to base with across and swaps on base
func fixturePlan() *models.ConsolidationPlan {
	return &models.ConsolidationPlan{
		ID:                     models.NewPlanID(now),
		UserID:                 "user-1",
		UserAddress:            user,
		DestinationChain:       chains.Base,
		DestinationToken:       baseUSDC,
		CreatedAt:              now,
		ExpiresAt:              now.Add(time.Minute),
		SlippageBps:            100,
		TotalInputValueUsd:     decimal.NewFromInt(15),
		ExpectedOutputValueUsd: decimal.RequireFromString("14.5"),
		ChainPlans: []models.ChainConsolidationPlan{
			{
				Chain:    chains.Arbitrum,
				Priority: 0,
				Swap: models.SwapLeg{
					InputValueUsd: decimal.NewFromInt(10),
					OutputToken:   arbUSDC,
					OutputAmount:  big.NewInt(10_000_000),
					MinOutput:     big.NewInt(9_900_000),
					Quotes:        []dex.Quote{swapQuote(chains.Arbitrum, arbToken, arbUSDC, 10_000_000)},
				},
				Bridge: &models.BridgeLeg{
					Provider: "across",
					Quote: bridges.Quote{
						Provider:         "across",
						SourceChain:      chains.Arbitrum,
						DestinationChain: chains.Base,
						SourceToken:      arbUSDC,
						DestinationToken: baseUSDC,
						InputAmount:      big.NewInt(9_900_000),
						OutputAmount:     big.NewInt(9_801_000),
					},
					InputAmount:          big.NewInt(9_900_000),
					OutputAmount:         big.NewInt(9_801_000),
					EstimatedTimeSeconds: 120,
				},
			},
			{
				Chain:    chains.Base,
				Priority: 1,
				Swap: models.SwapLeg{
					InputValueUsd: decimal.NewFromInt(5),
					OutputToken:   baseUSDC,
					OutputAmount:  big.NewInt(5_000_000),
					MinOutput:     big.NewInt(4_950_000),
					Quotes:        []dex.Quote{swapQuote(chains.Base, degen, baseUSDC, 5_000_000)},
				},
			},
		},
	}
}

func signatures() map[chains.Chain]string {
	return map[chains.Chain]string{chains.Arbitrum: "0xsig-arb", chains.Base: "0xsig-base"}
}

type fixture struct {
	executor  *executor.Executor
	submitter *mockSubmitter
	agg       *mockAggregator
	provider  *mockProvider
}

func newFixture(t *testing.T, cfg executor.Config) *fixture {
	t.Helper()
	f := &fixture{submitter: &mockSubmitter{}, agg: &mockAggregator{}, provider: &mockProvider{}}
	registry, err := bridges.NewRegistry(time.Now, f.provider)
	assert.NoError(t, err)

	cfg.Now = clock
	cfg.Retry = executor.RetryPolicy{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	cfg.StatusPollInterval = time.Millisecond
	cfg.ReceiptPollInterval = time.Millisecond
	if cfg.BridgeTimeout == 0 {
		cfg.BridgeTimeout = 5 * time.Second
	}
	cfg.Metrics = metrics.NewCollector("test")
	f.executor = executor.New(dex.NewRouter(f.agg), registry, f.submitter, cfg)
	return f
}

func drain(t *testing.T, run *executor.Run) []models.ConsolidationEvent {
	t.Helper()
	var events []models.ConsolidationEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("run did not finish")
			return nil
		}
	}
}

func count(events []models.ConsolidationEvent, typ models.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func chainEvents(events []models.ConsolidationEvent, chain chains.Chain) []models.EventType {
	var out []models.EventType
	for _, ev := range events {
		if ev.Chain == chain {
			out = append(out, ev.Type)
		}
	}
	return out
}

func TestExecuteCompletes(t *testing.T) {
	f := newFixture(t, executor.Config{})
	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	assert.True(t, models.IsConsolidationID(run.ID()))

	events := drain(t, run)
	assert.Equal(t, len(events), 10)
	assert.Equal(t, events[0].Type, models.EventConsolidationStarted)
	assert.Equal(t, events[len(events)-1].Type, models.EventConsolidationCompleted)
	assert.DeepEqual(t, chainEvents(events, chains.Arbitrum), []models.EventType{
		models.EventChainSwapStarted,
		models.EventChainSwapCompleted,
		models.EventChainBridgeStarted,
		models.EventChainBridgeCompleted,
		models.EventChainCompleted,
	})
	assert.DeepEqual(t, chainEvents(events, chains.Base), []models.EventType{
		models.EventChainSwapStarted,
		models.EventChainSwapCompleted,
		models.EventChainCompleted,
	})
	for _, ev := range events {
		assert.Equal(t, ev.ConsolidationID, run.ID())
		assert.Equal(t, ev.UserID, "user-1")
	}

	status := run.Snapshot()
	assert.Equal(t, status.Status, models.StatusCompleted)
	assert.Equal(t, status.ProgressPercent, 100)
	assert.Equal(t, status.CompletedChains, 2)
	assert.Equal(t, len(status.Errors), 0)
	assert.Equal(t, status.ActualOutputAmount.Int64(), int64(9_801_000+5_000_000))
	assert.True(t, status.CompletedAt != nil)

	arb := status.Chain(chains.Arbitrum)
	assert.True(t, arb.SwapConfirmed)
	assert.True(t, arb.BridgeConfirmed)
	assert.Equal(t, arb.BridgeStatus, bridges.StatusCompleted)
	assert.Equal(t, arb.DestinationTxHash, "0xdest")
	assert.Equal(t, len(arb.SwapTxHashes), 1)
	assert.NotEqual(t, arb.BridgeTxHash, "")
	assert.Equal(t, arb.OutputAmount.Int64(), int64(9_801_000))

	// swap, approve and deposit on arbitrum, one swap on base
	arbTxs := f.submitter.sentOn(chains.Arbitrum)
	assert.Equal(t, len(arbTxs), 3)
	assert.Equal(t, arbTxs[0].To, router)
	assert.Equal(t, arbTxs[0].Signature, "0xsig-arb")
	assert.Equal(t, arbTxs[1].To, arbUSDC)
	assert.Equal(t, fmt.Sprintf("%x", arbTxs[1].Data[:4]), "095ea7b3")
	assert.Equal(t, arbTxs[2].To, spokePool)
	assert.Equal(t, arbTxs[2].GasLimit, uint64(200_000))
	assert.Equal(t, len(f.submitter.sentOn(chains.Base)), 1)

	fromStatus, err := f.executor.Status(run.ID())
	assert.NoError(t, err)
	assert.Equal(t, fromStatus.Status, models.StatusCompleted)
}

func TestExecutePartialSuccess(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.provider.status = func(int) *bridges.Receipt {
		return &bridges.Receipt{Provider: "across", Status: bridges.StatusFailed, Message: "fill deadline passed"}
	}

	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	events := drain(t, run)

	status := run.Snapshot()
	assert.Equal(t, status.Status, models.StatusPartialSuccess)
	assert.Equal(t, events[len(events)-1].Type, models.EventConsolidationPartial)
	assert.Equal(t, status.CompletedChains, 1)
	assert.Equal(t, status.FinishedChains, 2)
	assert.Equal(t, status.TotalChains, 2)
	assert.Equal(t, count(events, models.EventChainFailed), 1)

	assert.Equal(t, len(status.Errors), 1)
	assert.Equal(t, status.Errors[0].Chain, chains.Arbitrum)
	assert.Equal(t, status.Errors[0].Stage, models.StageBridge)
	assert.True(t, strings.Contains(status.Errors[0].Message, "FAILED"))

	arb := status.Chain(chains.Arbitrum)
	assert.Equal(t, arb.Status, models.ChainFailed)
	assert.Equal(t, arb.RetryCount, 0)
	assert.Equal(t, arb.BridgeStatus, bridges.StatusFailed)
	assert.NotEqual(t, arb.BridgeError, "")
	assert.Equal(t, status.Chain(chains.Base).Status, models.ChainCompleted)
	assert.Equal(t, status.ActualOutputAmount.Int64(), int64(5_000_000))
}

func TestExecuteStalePlan(t *testing.T) {
	f := newFixture(t, executor.Config{})
	plan := fixturePlan()
	plan.ExpiresAt = now

	run, err := f.executor.Execute(context.Background(), plan, signatures())
	assert.True(t, errors.Is(err, executor.ErrQuoteStale))
	assert.True(t, run == nil)
	assert.Equal(t, len(f.submitter.sent), 0)
	assert.Equal(t, len(f.agg.requests), 0)

	var stale *executor.StaleQuoteError
	assert.True(t, errors.As(err, &stale))
	assert.Equal(t, stale.Status.Status, models.StatusExpired)
	assert.Equal(t, stale.Status.PlanID, plan.ID)
	assert.True(t, models.IsConsolidationID(stale.Status.ConsolidationID))
	assert.Equal(t, stale.Status.TotalChains, len(plan.ChainPlans))
	assert.Equal(t, stale.Status.CompletedChains, 0)
	assert.True(t, stale.Status.CompletedAt != nil)

	// an expired plan leaves nothing to poll on the executor
	_, err = f.executor.Status(stale.Status.ConsolidationID)
	assert.True(t, errors.Is(err, executor.ErrUnknownConsolidation))
}

func TestExecuteTwice(t *testing.T) {
	f := newFixture(t, executor.Config{})
	plan := fixturePlan()

	run, err := f.executor.Execute(context.Background(), plan, signatures())
	assert.NoError(t, err)
	drain(t, run)
	sent := len(f.submitter.sent)

	_, err = f.executor.Execute(context.Background(), plan, signatures())
	assert.True(t, errors.Is(err, executor.ErrAlreadyExecuted))
	assert.Equal(t, len(f.submitter.sent), sent)
}

func TestExecuteMissingSignature(t *testing.T) {
	f := newFixture(t, executor.Config{})
	run, err := f.executor.Execute(context.Background(), fixturePlan(), map[chains.Chain]string{chains.Base: "0xsig-base"})
	assert.NoError(t, err)
	events := drain(t, run)

	status := run.Snapshot()
	assert.Equal(t, status.Status, models.StatusPartialSuccess)
	assert.Equal(t, status.Chain(chains.Arbitrum).Status, models.ChainSkipped)
	assert.Equal(t, len(status.Errors), 1)
	assert.Equal(t, status.Errors[0].Stage, models.StageSignature)
	assert.Equal(t, count(events, models.EventChainSkipped), 1)
	assert.Equal(t, len(f.submitter.sentOn(chains.Arbitrum)), 0)
	assert.Equal(t, len(f.submitter.sentOn(chains.Base)), 1)
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	f := newFixture(t, executor.Config{})
	var mu sync.Mutex
	failures := 0
	f.submitter.fail = func(tx evm.Transaction) error {
		mu.Lock()
		defer mu.Unlock()
		if tx.Chain == chains.Arbitrum && failures < 2 {
			failures++
			return &upstream.APIError{Provider: "rpc-arbitrum", StatusCode: 503, Body: "busy"}
		}
		return nil
	}

	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	events := drain(t, run)

	status := run.Snapshot()
	assert.Equal(t, status.Status, models.StatusCompleted)
	assert.Equal(t, status.Chain(chains.Arbitrum).RetryCount, 2)
	assert.Equal(t, status.Chain(chains.Base).RetryCount, 0)
	assert.Equal(t, count(events, models.EventChainRetry), 2)
	// two failed attempts, then swap, approve and deposit
	assert.Equal(t, len(f.submitter.sentOn(chains.Arbitrum)), 5)
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.submitter.fail = func(tx evm.Transaction) error {
		if tx.Chain == chains.Base {
			return &upstream.APIError{Provider: "rpc-base", StatusCode: 429}
		}
		return nil
	}

	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	drain(t, run)

	status := run.Snapshot()
	assert.Equal(t, status.Status, models.StatusPartialSuccess)
	base := status.Chain(chains.Base)
	assert.Equal(t, base.Status, models.ChainFailed)
	assert.Equal(t, base.RetryCount, 3)
	assert.Equal(t, len(f.submitter.sentOn(chains.Base)), 4)
	assert.Equal(t, status.Errors[0].Stage, models.StageSwap)
}

func TestExecuteRevertIsNotRetried(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.submitter.receipt = func(chain chains.Chain, hash string) (*evm.Receipt, error) {
		if chain == chains.Arbitrum {
			return nil, fmt.Errorf("%w: %s", evm.ErrReverted, hash)
		}
		return &evm.Receipt{TxHash: hash}, nil
	}

	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	drain(t, run)

	status := run.Snapshot()
	arb := status.Chain(chains.Arbitrum)
	assert.Equal(t, arb.Status, models.ChainFailed)
	assert.Equal(t, arb.RetryCount, 0)
	assert.NotEqual(t, arb.SwapError, "")
	assert.Equal(t, len(f.submitter.sentOn(chains.Arbitrum)), 1)
	assert.Equal(t, f.provider.builds, 0)
	assert.Equal(t, status.Status, models.StatusPartialSuccess)
}

func TestExecuteWaitsForReceipt(t *testing.T) {
	f := newFixture(t, executor.Config{})
	var mu sync.Mutex
	lookups := map[string]int{}
	f.submitter.receipt = func(_ chains.Chain, hash string) (*evm.Receipt, error) {
		mu.Lock()
		defer mu.Unlock()
		lookups[hash]++
		if lookups[hash] < 3 {
			return nil, evm.ErrReceiptNotFound
		}
		return &evm.Receipt{TxHash: hash}, nil
	}

	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	drain(t, run)

	status := run.Snapshot()
	assert.Equal(t, status.Status, models.StatusCompleted)
	// pending receipts are polled, not retried
	assert.Equal(t, status.Chain(chains.Arbitrum).RetryCount, 0)
}

func TestExecuteBridgeTimeout(t *testing.T) {
	f := newFixture(t, executor.Config{BridgeTimeout: 20 * time.Millisecond})
	f.provider.status = func(int) *bridges.Receipt {
		return &bridges.Receipt{Provider: "across", Status: bridges.StatusPending}
	}

	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	drain(t, run)

	status := run.Snapshot()
	assert.Equal(t, status.Chain(chains.Arbitrum).Status, models.ChainFailed)
	assert.Equal(t, status.Errors[0].Stage, models.StageBridge)
	assert.True(t, strings.Contains(status.Errors[0].Message, executor.ErrBridgeTimeout.Error()))
}

func TestExecuteCancelStopsScheduling(t *testing.T) {
	f := newFixture(t, executor.Config{MaxConcurrentChains: 1})
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.submitter.fail = func(tx evm.Transaction) error {
		if tx.Chain == chains.Arbitrum {
			once.Do(func() {
				close(started)
				<-release
			})
		}
		return nil
	}

	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	<-started
	run.Cancel()
	close(release)
	events := drain(t, run)

	status := run.Snapshot()
	// the started chain finishes, the queued one is skipped
	assert.Equal(t, status.Chain(chains.Arbitrum).Status, models.ChainCompleted)
	assert.Equal(t, status.Chain(chains.Base).Status, models.ChainSkipped)
	assert.Equal(t, status.Status, models.StatusPartialSuccess)
	assert.Equal(t, status.Errors[0].Stage, models.StageCancelled)
	assert.Equal(t, count(events, models.EventChainSkipped), 1)
	assert.Equal(t, len(f.submitter.sentOn(chains.Base)), 0)
}

func TestExecuteRequotesWithoutCalldata(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.agg.getQuote = func(_ context.Context, req dex.QuoteRequest) (*dex.Quote, error) {
		q := swapQuote(req.Chain, req.TokenIn, req.TokenOut, req.Amount.Int64())
		q.Calldata = []byte{0xde, 0xad}
		return &q, nil
	}
	plan := fixturePlan()
	plan.ChainPlans[1].Swap.Quotes[0].Calldata = nil

	run, err := f.executor.Execute(context.Background(), plan, signatures())
	assert.NoError(t, err)
	drain(t, run)

	assert.Equal(t, run.Snapshot().Status, models.StatusCompleted)
	assert.Equal(t, len(f.agg.requests), 1)
	req := f.agg.requests[0]
	assert.True(t, req.IncludeCalldata)
	assert.Equal(t, req.Chain, chains.Base)
	assert.Equal(t, req.Amount.Int64(), int64(5_000_000))
	assert.Equal(t, req.From, user)
	assert.Equal(t, req.SlippageBps, uint32(100))
	assert.DeepEqual(t, f.submitter.sentOn(chains.Base)[0].Data, []byte{0xde, 0xad})
}

func TestExecutePriceMoved(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.agg.getQuote = func(_ context.Context, req dex.QuoteRequest) (*dex.Quote, error) {
		q := swapQuote(req.Chain, req.TokenIn, req.TokenOut, req.Amount.Int64()/2)
		return &q, nil
	}
	plan := fixturePlan()
	plan.ChainPlans[1].Swap.Quotes[0].Calldata = nil

	run, err := f.executor.Execute(context.Background(), plan, signatures())
	assert.NoError(t, err)
	drain(t, run)

	status := run.Snapshot()
	assert.Equal(t, status.Chain(chains.Base).Status, models.ChainFailed)
	assert.True(t, strings.Contains(status.Chain(chains.Base).SwapError, executor.ErrPriceMoved.Error()))
	assert.Equal(t, len(f.submitter.sentOn(chains.Base)), 0)
}

func TestExecuteInvalidPlan(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *models.ConsolidationPlan) *models.ConsolidationPlan
	}{
		{"nil plan", func(*models.ConsolidationPlan) *models.ConsolidationPlan { return nil }},
		{"no chains", func(p *models.ConsolidationPlan) *models.ConsolidationPlan {
			p.ChainPlans = nil
			return p
		}},
		{"missing id", func(p *models.ConsolidationPlan) *models.ConsolidationPlan {
			p.ID = ""
			return p
		}},
		{"bad user", func(p *models.ConsolidationPlan) *models.ConsolidationPlan {
			p.UserAddress = "nobody"
			return p
		}},
		{"bridge on destination chain", func(p *models.ConsolidationPlan) *models.ConsolidationPlan {
			p.ChainPlans[1].Bridge = p.ChainPlans[0].Bridge
			return p
		}},
		{"missing bridge", func(p *models.ConsolidationPlan) *models.ConsolidationPlan {
			p.ChainPlans[0].Bridge = nil
			return p
		}},
		{"duplicate chain", func(p *models.ConsolidationPlan) *models.ConsolidationPlan {
			p.ChainPlans = append(p.ChainPlans, p.ChainPlans[1])
			return p
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, executor.Config{})
			_, err := f.executor.Execute(context.Background(), tt.mutate(fixturePlan()), signatures())
			assert.True(t, errors.Is(err, executor.ErrInvalidPlan))
			assert.Equal(t, len(f.submitter.sent), 0)
		})
	}
}

func TestExecuteJob(t *testing.T) {
	f := newFixture(t, executor.Config{})
	plan := fixturePlan()
	id := models.NewConsolidationID(now)

	job := executor.NewJob(id, plan, signatures())
	rebuilt := job.Plan()
	assert.True(t, rebuilt.TotalInputValueUsd.Equal(decimal.NewFromInt(15)))

	run, err := f.executor.ExecuteJob(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, run.ID(), id)
	drain(t, run)
	assert.Equal(t, run.Snapshot().Status, models.StatusCompleted)
	assert.Equal(t, run.Snapshot().PlanID, plan.ID)

	_, err = f.executor.ExecuteJob(context.Background(), executor.NewJob("job-1", fixturePlan(), signatures()))
	assert.True(t, errors.Is(err, executor.ErrInvalidPlan))
}

func TestStatusUnknown(t *testing.T) {
	f := newFixture(t, executor.Config{})
	_, err := f.executor.Status("cons-missing-00000000")
	assert.True(t, errors.Is(err, executor.ErrUnknownConsolidation))
}

func TestSnapshotIsACopy(t *testing.T) {
	f := newFixture(t, executor.Config{})
	run, err := f.executor.Execute(context.Background(), fixturePlan(), signatures())
	assert.NoError(t, err)
	drain(t, run)

	snapshot := run.Snapshot()
	snapshot.ChainOperations[0].Status = models.ChainFailed
	snapshot.ChainOperations[0].SwapTxHashes[0] = "0xchanged"
	again := run.Snapshot()
	assert.Equal(t, again.ChainOperations[0].Status, models.ChainCompleted)
	assert.NotEqual(t, again.ChainOperations[0].SwapTxHashes[0], "0xchanged")
	assert.Equal(t, len(run.History()), 10)
}
