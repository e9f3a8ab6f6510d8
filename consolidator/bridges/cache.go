package bridges

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultQuoteCacheTTL keeps quotes long enough for one planning pass
const DefaultQuoteCacheTTL = 60 * time.Second

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a TTL cache owned by a single adapter instance. Expiry is decided by the
// injected clock; the underlying go-cache janitor only reclaims memory.
type Cache[T any] struct {
	store *gocache.Cache
	ttl   time.Duration
	now   Clock
}

// NewCache creates a cache whose entries live for ttl according to now
func NewCache[T any](ttl time.Duration, now Clock) *Cache[T] {
	if now == nil {
		now = time.Now
	}
	// janitor runs on wall clock; keep entries around a little longer than ttl
	return &Cache[T]{
		store: gocache.New(2*ttl, 4*ttl),
		ttl:   ttl,
		now:   now,
	}
}

// Get returns the cached value if it has not expired
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T
	raw, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	entry := raw.(cacheEntry[T])
	if !c.now().Before(entry.expiresAt) {
		c.store.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key for the cache ttl
func (c *Cache[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key for a custom ttl
func (c *Cache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	c.store.Set(key, cacheEntry[T]{value: value, expiresAt: c.now().Add(ttl)}, 2*ttl)
}

// Len returns the number of stored entries, expired ones included
func (c *Cache[T]) Len() int {
	return c.store.ItemCount()
}

// Flush drops every entry
func (c *Cache[T]) Flush() {
	c.store.Flush()
}

// QuoteKey builds the cache key for a quote request. The amount is part of the key so
// plans built for different amounts never share a cached quote.
func QuoteKey(provider string, req QuoteRequest) string {
	amount := "0"
	if req.Amount != nil {
		amount = req.Amount.String()
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s:%d",
		provider,
		req.SourceChain,
		req.DestinationChain,
		strings.ToLower(req.SourceToken),
		strings.ToLower(req.DestinationToken),
		amount,
		req.SlippageBps,
	)
}
