// Package ratelimit keeps one token bucket per provider and chain so that concurrent
// planning and execution never exceed an upstream's limits together.
package ratelimit

import (
	"context"
	"sync"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"golang.org/x/time/rate"
)

// Limit is the rate and burst for one provider
type Limit struct {
	PerSecond float64
	Burst     int
}

// DefaultLimit is applied to providers without an explicit entry
var DefaultLimit = Limit{PerSecond: 5, Burst: 5}

// Registry hands out a shared limiter per provider+chain key
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limits   map[string]Limit
	fallback Limit
}

// NewRegistry creates a registry. limits is keyed by provider name.
func NewRegistry(limits map[string]Limit) *Registry {
	copied := make(map[string]Limit, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		limits:   copied,
		fallback: DefaultLimit,
	}
}

// Limiter returns the limiter for provider on chain, creating it on first use
func (r *Registry) Limiter(provider string, chain chains.Chain) *rate.Limiter {
	key := provider + ":" + string(chain)

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		return l
	}
	limit, ok := r.limits[provider]
	if !ok {
		limit = r.fallback
	}
	l := newLimiter(limit)
	r.limiters[key] = l
	return l
}

// Wait blocks until the provider+chain limiter allows one more call or ctx ends.
// A nil registry never blocks.
func (r *Registry) Wait(ctx context.Context, provider string, chain chains.Chain) error {
	if r == nil {
		return nil
	}
	return r.Limiter(provider, chain).Wait(ctx)
}

func newLimiter(l Limit) *rate.Limiter {
	if l.PerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.PerSecond), burst)
}
