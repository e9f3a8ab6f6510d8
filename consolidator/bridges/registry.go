package bridges

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
)

// ProviderListTTL is how long a provider's answer for a route is remembered
const ProviderListTTL = 5 * time.Minute

// Registry holds the enabled bridge providers by name
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	routes    *Cache[bool]
}

// NewRegistry creates a registry. Duplicate names are rejected.
func NewRegistry(now Clock, providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		routes:    NewCache[bool](ProviderListTTL, now),
	}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("bridge provider %q registered twice", name)
	}
	r.providers[name] = p
	r.routes.Flush()
	return nil
}

// Get returns a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns every provider ordered by name
func (r *Registry) All() []Provider {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		out = append(out, r.providers[name])
	}
	return out
}

// Supports asks p whether it can move token between the two chains. Definite
// answers are cached per provider and route for ProviderListTTL; failed lookups
// are returned to the caller and asked again next time.
func (r *Registry) Supports(ctx context.Context, p Provider, src, dst chains.Chain, token string) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", p.Name(), src, dst, strings.ToLower(token))
	if ok, cached := r.routes.Get(key); cached {
		return ok, nil
	}
	ok, err := p.SupportsRoute(ctx, src, dst, token)
	if err != nil {
		return false, err
	}
	// a cancelled lookup may have reported a false negative
	if ctx.Err() == nil {
		r.routes.Set(key, ok)
	}
	return ok, nil
}
