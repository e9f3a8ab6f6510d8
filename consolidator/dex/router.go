package dex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "dex-router").Logger()
}

// ErrNoAggregator is returned when no registered aggregator covers a chain
var ErrNoAggregator = errors.New("no dex aggregator for chain")

// Router fans a quote request out to every aggregator serving the chain and keeps
// the best output.
type Router struct {
	aggregators []Aggregator
}

// NewRouter creates a router over the given aggregators
func NewRouter(aggregators ...Aggregator) *Router {
	return &Router{aggregators: aggregators}
}

// Aggregators returns the registered aggregators in registration order
func (r *Router) Aggregators() []Aggregator {
	out := make([]Aggregator, len(r.aggregators))
	copy(out, r.aggregators)
	return out
}

// Aggregator returns the aggregator registered under name
func (r *Router) Aggregator(name string) (Aggregator, error) {
	for _, a := range r.aggregators {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAggregator, name)
}

// SupportsChain reports whether any aggregator serves chain
func (r *Router) SupportsChain(chain chains.Chain) bool {
	for _, a := range r.aggregators {
		if a.SupportsChain(chain) {
			return true
		}
	}
	return false
}

// GetQuote returns the highest output quote across aggregators serving req.Chain.
// It returns nil, nil when every aggregator answered without a route and an error
// only when all of them failed.
func (r *Router) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var candidates []Aggregator
	for _, a := range r.aggregators {
		if a.SupportsChain(req.Chain) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAggregator, req.Chain)
	}

	var (
		mu     sync.Mutex
		best   *Quote
		errs   []error
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, agg := range candidates {
		g.Go(func() error {
			q, err := agg.GetQuote(gctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				errs = append(errs, fmt.Errorf("%s: %w", agg.Name(), err))
				log.Debug().Err(err).Str("aggregator", agg.Name()).Str("chain", string(req.Chain)).Msg("Aggregator quote failed")
				return nil
			}
			if q == nil || q.AmountOut == nil {
				return nil
			}
			if best == nil || q.AmountOut.Cmp(best.AmountOut) > 0 ||
				(q.AmountOut.Cmp(best.AmountOut) == 0 && q.Aggregator < best.Aggregator) {
				best = q
			}
			return nil
		})
	}
	_ = g.Wait()

	if best != nil {
		return best, nil
	}
	if failed == len(candidates) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
