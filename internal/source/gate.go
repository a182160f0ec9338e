package source

import (
	"context"

	"github.com/sells-group/entity-graph/internal/cache"
	"github.com/sells-group/entity-graph/internal/resilience"
)

// Gate sends remote calls through the cache and rate limiter: cache lookup,
// then limiter acquire, the call itself, the throttle/success signal, and
// finally the cache write. Throttled calls are retried per the retry policy.
type Gate struct {
	cache  *cache.Layer
	limits resilience.Gate
	retry  resilience.RetryConfig
}

// NewGate creates a gate. Either dependency may be nil.
func NewGate(c *cache.Layer, limits resilience.Gate, retry resilience.RetryConfig) *Gate {
	return &Gate{cache: c, limits: limits, retry: retry}
}

// Do runs fn for sourceID under the gate. query identifies the call for
// caching; lang scopes it.
func Do[T any](ctx context.Context, g *Gate, sourceID, lang, query, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	call := func(ctx context.Context) (T, error) {
		if g.limits == nil {
			return fn(ctx)
		}
		cfg := g.retry
		if cfg.OnRetry == nil {
			cfg.OnRetry = resilience.RetryLogger(sourceID, operation)
		}
		return resilience.Call(ctx, g.limits, sourceID, cfg, fn)
	}
	key := cache.Key(sourceID, operation+":"+query, lang)
	return cache.Fetch(ctx, g.cache, sourceID, key, call)
}
