package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Registry holds one Limiter per source. Limiters are created lazily and live
// for the life of the process, so every caller for a source shares its budget.
type Registry struct {
	defaults  Config
	overrides map[string]Config

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates a registry applying defaults to every source unless an
// override is registered with WithSource.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults:  defaults,
		overrides: make(map[string]Config),
		limiters:  make(map[string]*Limiter),
	}
}

// WithSource sets a per-source config. It must be called before the source's
// first acquisition.
func (r *Registry) WithSource(sourceID string, cfg Config) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[sourceID] = cfg
	return r
}

// Limiter returns the limiter for sourceID, creating it on first use.
func (r *Registry) Limiter(sourceID string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[sourceID]; ok {
		return l
	}
	cfg, ok := r.overrides[sourceID]
	if !ok {
		cfg = r.defaults
	}
	l := NewLimiter(sourceID, cfg)
	r.limiters[sourceID] = l
	return l
}

// Acquire blocks until sourceID has a free slot.
func (r *Registry) Acquire(ctx context.Context, sourceID string) error {
	return r.Limiter(sourceID).Acquire(ctx)
}

// Throttled reports a throttling signal for sourceID.
func (r *Registry) Throttled(sourceID string, retryAfter time.Duration) {
	r.Limiter(sourceID).Throttled(retryAfter)
}

// Success reports a successful call for sourceID.
func (r *Registry) Success(sourceID string) {
	r.Limiter(sourceID).Success()
}

// Budgets returns a snapshot of every source seen so far.
func (r *Registry) Budgets() map[string]Budget {
	r.mu.Lock()
	ls := make(map[string]*Limiter, len(r.limiters))
	for k, v := range r.limiters {
		ls[k] = v
	}
	r.mu.Unlock()

	out := make(map[string]Budget, len(ls))
	for k, l := range ls {
		out[k] = l.Budget()
	}
	return out
}
