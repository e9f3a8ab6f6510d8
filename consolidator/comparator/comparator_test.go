package comparator_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/comparator"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/scoring"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

type mockProvider struct {
	name          string
	supports      bool
	supportsRoute func(ctx context.Context) (bool, error)
	getQuote      func(ctx context.Context, req bridges.QuoteRequest) (*bridges.Quote, error)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) SupportsRoute(ctx context.Context, _, _ chains.Chain, _ string) (bool, error) {
	if m.supportsRoute != nil {
		return m.supportsRoute(ctx)
	}
	return m.supports, nil
}

func (m *mockProvider) GetQuote(ctx context.Context, req bridges.QuoteRequest) (*bridges.Quote, error) {
	if m.getQuote == nil {
		return nil, nil
	}
	return m.getQuote(ctx, req)
}

func (m *mockProvider) GetStatus(context.Context, string, chains.Chain) (*bridges.Receipt, error) {
	return &bridges.Receipt{Provider: m.name, Status: bridges.StatusPending}, nil
}

func (m *mockProvider) BuildTransaction(context.Context, bridges.Quote, string, string) (*bridges.TxRequest, error) {
	return nil, errors.New("not implemented")
}

func quoting(name string, out int64, seconds int) *mockProvider {
	return &mockProvider{
		name:     name,
		supports: true,
		getQuote: func(_ context.Context, req bridges.QuoteRequest) (*bridges.Quote, error) {
			return &bridges.Quote{
				Provider:             name,
				InputAmount:          new(big.Int).Set(req.Amount),
				OutputAmount:         big.NewInt(out),
				Fees:                 bridges.Fees{BridgeFee: new(big.Int).Sub(req.Amount, big.NewInt(out))},
				EstimatedTimeSeconds: seconds,
			}, nil
		},
	}
}

func hanging(name string) *mockProvider {
	return &mockProvider{
		name:     name,
		supports: true,
		getQuote: func(ctx context.Context, _ bridges.QuoteRequest) (*bridges.Quote, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func newComparator(t *testing.T, providers ...bridges.Provider) *comparator.Comparator {
	registry, err := bridges.NewRegistry(time.Now, providers...)
	assert.NoError(t, err)
	return comparator.New(registry, comparator.Config{
		Timeout: 50 * time.Millisecond,
		Metrics: metrics.NewCollector("test"),
	})
}

func route() comparator.Route {
	return comparator.Route{
		SourceChain:      chains.Arbitrum,
		DestinationChain: chains.Base,
		SourceToken:      "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		DestinationToken: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:           big.NewInt(1_000_000),
		AmountUsd:        decimal.NewFromInt(100),
	}
}

func TestCompareSurvivesTimeout(t *testing.T) {
	c := newComparator(t,
		quoting("across", 990_000, 60),
		quoting("cbridge", 995_000, 240),
		hanging("stargate"),
	)

	res, err := c.Compare(context.Background(), route(), scoring.Cost)
	assert.NoError(t, err)
	assert.Equal(t, len(res.Comparisons), 2)
	assert.DeepEqual(t, res.Failed, []string{"stargate"})
	assert.Equal(t, res.Best().Provider, "cbridge")
	assert.True(t, res.Best().NetOutputUsd.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, res.Best().FeeUsd.Equal(decimal.RequireFromString("0.5")))
}

func TestCompareStrategyChangesWinner(t *testing.T) {
	c := newComparator(t,
		quoting("across", 990_000, 60),
		quoting("cbridge", 995_000, 240),
	)

	res, err := c.Compare(context.Background(), route(), scoring.Speed)
	assert.NoError(t, err)
	assert.Equal(t, res.Best().Provider, "across")
}

func TestCompareProviderErrorIsIgnored(t *testing.T) {
	broken := &mockProvider{name: "hop", supports: true, getQuote: func(context.Context, bridges.QuoteRequest) (*bridges.Quote, error) {
		return nil, errors.New("upstream 500")
	}}
	c := newComparator(t, broken, quoting("across", 990_000, 60))

	res, err := c.Compare(context.Background(), route(), scoring.Cost)
	assert.NoError(t, err)
	assert.Equal(t, len(res.Comparisons), 1)
	assert.DeepEqual(t, res.Failed, []string{"hop"})
}

func TestCompareNoQuotes(t *testing.T) {
	c := newComparator(t,
		&mockProvider{name: "across", supports: true},
		&mockProvider{name: "cbridge", supports: true},
	)

	_, err := c.Compare(context.Background(), route(), scoring.Cost)
	assert.True(t, errors.Is(err, comparator.ErrNoRoute))
}

func TestCompareNoSupportingProvider(t *testing.T) {
	c := newComparator(t, &mockProvider{name: "across", supports: false})

	_, err := c.Compare(context.Background(), route(), scoring.Cost)
	assert.True(t, errors.Is(err, comparator.ErrNoRoute))
}

func TestCompareCancelledContext(t *testing.T) {
	registry, err := bridges.NewRegistry(time.Now, hanging("across"))
	assert.NoError(t, err)
	c := comparator.New(registry, comparator.Config{Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Compare(ctx, route(), scoring.Cost)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCompareZeroAmount(t *testing.T) {
	c := newComparator(t, quoting("across", 1, 60))
	r := route()
	r.Amount = big.NewInt(0)

	_, err := c.Compare(context.Background(), r, scoring.Cost)
	assert.True(t, errors.Is(err, comparator.ErrNoRoute))
}

func TestCompareRouteLookupIsBoundedByTimeout(t *testing.T) {
	slow := quoting("stargate", 999_000, 60)
	slow.supportsRoute = func(ctx context.Context) (bool, error) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(2 * time.Second):
			return true, nil
		}
	}
	c := newComparator(t, quoting("across", 990_000, 60), slow)

	start := time.Now()
	res, err := c.Compare(context.Background(), route(), scoring.Cost)
	assert.NoError(t, err)
	assert.True(t, time.Since(start) < time.Second)
	assert.Equal(t, len(res.Comparisons), 1)
	assert.Equal(t, res.Best().Provider, "across")
	assert.DeepEqual(t, res.Failed, []string{"stargate"})
}

func TestCompareRetriesFailedRouteLookup(t *testing.T) {
	var calls atomic.Int32
	flaky := quoting("across", 990_000, 60)
	flaky.supportsRoute = func(context.Context) (bool, error) {
		if calls.Add(1) == 1 {
			return false, errors.New("limits: connection reset")
		}
		return true, nil
	}
	c := newComparator(t, flaky)

	_, err := c.Compare(context.Background(), route(), scoring.Cost)
	assert.True(t, errors.Is(err, comparator.ErrNoRoute))

	res, err := c.Compare(context.Background(), route(), scoring.Cost)
	assert.NoError(t, err)
	assert.Equal(t, res.Best().Provider, "across")
	assert.Equal(t, calls.Load(), int32(2))

	// the definite answer is cached
	_, err = c.Compare(context.Background(), route(), scoring.Cost)
	assert.NoError(t, err)
	assert.Equal(t, calls.Load(), int32(2))
}
