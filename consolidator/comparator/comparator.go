// Package comparator queries every bridge provider that supports a route at the
// same time and ranks the answers. A provider that errors or times out counts
// as having no quote; it never aborts the comparison.
package comparator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/scoring"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "comparator").Logger()
}

// ErrNoRoute is returned when no provider quoted the route
var ErrNoRoute = errors.New("no bridge route available")

const (
	// DefaultTimeout bounds a single provider quote
	DefaultTimeout = 8 * time.Second
	// DefaultConcurrency is the number of providers queried at once
	DefaultConcurrency = 4
)

// Route is one bridge leg to price
type Route struct {
	SourceChain      chains.Chain
	DestinationChain chains.Chain
	SourceToken      string
	DestinationToken string
	Amount           *big.Int
	// AmountUsd is the USD value of Amount, used to express fees in USD
	AmountUsd   decimal.Decimal
	Sender      string
	Recipient   string
	SlippageBps uint32
}

// Result holds the ranked comparisons of a route
type Result struct {
	Route    Route
	Strategy scoring.Strategy
	// Comparisons are ordered best first under Strategy
	Comparisons []bridges.Comparison
	// Failed lists providers that errored or timed out
	Failed []string
}

// Best returns the top ranked comparison
func (r *Result) Best() bridges.Comparison {
	return r.Comparisons[0]
}

// Config tunes the comparator
type Config struct {
	Timeout     time.Duration
	Concurrency int
	Metrics     *metrics.Collector
}

// Comparator fans quote requests out to the providers of a registry
type Comparator struct {
	registry    *bridges.Registry
	timeout     time.Duration
	concurrency int
	metrics     *metrics.Collector
}

// New creates a comparator over registry
func New(registry *bridges.Registry, cfg Config) *Comparator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Comparator{
		registry:    registry,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
	}
}

// Compare quotes route with every provider that supports it and ranks the quotes
// under strategy. It returns ErrNoRoute when nobody quoted, or the context
// error when ctx ended before any quote arrived.
func (c *Comparator) Compare(ctx context.Context, route Route, strategy scoring.Strategy) (*Result, error) {
	if route.Amount == nil || route.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrNoRoute)
	}
	req := bridges.QuoteRequest{
		SourceChain:      route.SourceChain,
		DestinationChain: route.DestinationChain,
		SourceToken:      route.SourceToken,
		DestinationToken: route.DestinationToken,
		Amount:           route.Amount,
		Sender:           route.Sender,
		Recipient:        route.Recipient,
		SlippageBps:      route.SlippageBps,
	}

	var (
		mu          sync.Mutex
		comparisons []bridges.Comparison
		failed      []string
		supported   int
	)
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for _, p := range c.registry.All() {
		g.Go(func() error {
			quote, result := c.quote(ctx, p, req)
			if result == resultUnsupported {
				return nil
			}
			c.metrics.ProviderQuote(p.Name(), result)

			mu.Lock()
			defer mu.Unlock()
			supported++
			switch {
			case quote != nil:
				comparisons = append(comparisons, newComparison(p.Name(), *quote, route))
			case result != metrics.ResultNoQuote:
				failed = append(failed, p.Name())
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(failed)

	if len(comparisons) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if supported == 0 {
			log.Debug().
				Str("from", string(route.SourceChain)).
				Str("to", string(route.DestinationChain)).
				Str("token", route.SourceToken).
				Msg("No provider supports route")
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, route.SourceChain, route.DestinationChain)
	}

	ranked := scoring.Rank(comparisons, strategy)
	log.Debug().
		Str("from", string(route.SourceChain)).
		Str("to", string(route.DestinationChain)).
		Int("quotes", len(ranked)).
		Int("failed", len(failed)).
		Str("best", ranked[0].Provider).
		Msg("Compared bridge quotes")

	return &Result{
		Route:       route,
		Strategy:    strategy,
		Comparisons: ranked,
		Failed:      failed,
	}, nil
}

// resultUnsupported marks providers that do not serve the route, they are not reported
const resultUnsupported = "unsupported"

// quote checks route support and asks one provider for a quote, both under the
// per provider timeout, and classifies the outcome
func (c *Comparator) quote(ctx context.Context, p bridges.Provider, req bridges.QuoteRequest) (*bridges.Quote, string) {
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	ok, err := c.registry.Supports(qctx, p, req.SourceChain, req.DestinationChain, req.SourceToken)
	if err == nil && !ok {
		return nil, resultUnsupported
	}
	var quote *bridges.Quote
	if err == nil {
		quote, err = p.GetQuote(qctx, req)
	}
	switch {
	case err != nil && errors.Is(qctx.Err(), context.DeadlineExceeded):
		log.Warn().Err(err).Str("provider", p.Name()).Dur("after", time.Since(start)).Msg("Bridge quote timed out")
		return nil, metrics.ResultTimeout
	case err != nil:
		log.Warn().Err(err).Str("provider", p.Name()).Msg("Bridge quote failed")
		return nil, metrics.ResultError
	case quote == nil || quote.OutputAmount == nil || quote.OutputAmount.Sign() <= 0:
		return nil, metrics.ResultNoQuote
	}
	return quote, metrics.ResultOK
}

func newComparison(provider string, q bridges.Quote, route Route) bridges.Comparison {
	input := q.InputAmount
	if input == nil || input.Sign() == 0 {
		input = route.Amount
		q.InputAmount = new(big.Int).Set(route.Amount)
	}
	q.Provider = provider
	netUsd := route.AmountUsd.Mul(scoring.Ratio(q.OutputAmount, input)).Round(6)
	return bridges.Comparison{
		Provider:             provider,
		Quote:                q,
		NetOutput:            new(big.Int).Set(q.OutputAmount),
		NetOutputUsd:         netUsd,
		FeeUsd:               route.AmountUsd.Sub(netUsd),
		EstimatedTimeSeconds: q.EstimatedTimeSeconds,
	}
}
