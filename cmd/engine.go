package main

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/cache"
	"github.com/sells-group/entity-graph/internal/completion"
	"github.com/sells-group/entity-graph/internal/config"
	"github.com/sells-group/entity-graph/internal/dedup"
	"github.com/sells-group/entity-graph/internal/graph"
	"github.com/sells-group/entity-graph/internal/ratelimit"
	"github.com/sells-group/entity-graph/internal/resilience"
	"github.com/sells-group/entity-graph/internal/resolver"
	"github.com/sells-group/entity-graph/internal/source"
	anthropicpkg "github.com/sells-group/entity-graph/pkg/anthropic"
	"github.com/sells-group/entity-graph/pkg/dbpedia"
	"github.com/sells-group/entity-graph/pkg/wikidata"
	"github.com/sells-group/entity-graph/pkg/wikipedia"
)

// engineEnv holds the wired resolution and completion components shared by
// the resolve, graph and serve commands.
type engineEnv struct {
	Cache    *cache.Layer
	Limits   *ratelimit.Registry
	Resolver *resolver.Resolver
	Builder  *graph.Builder
	Proposer completion.Proposer // nil without an Anthropic key
}

// Close releases the cache store.
func (e *engineEnv) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
}

// initEngine opens the cache and builds every enabled source adapter, the
// resolver, the graph builder and, when configured, the completion proposer.
// Callers should defer env.Close().
func initEngine(ctx context.Context, c *config.Config, mode string) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	store, err := cache.Open(ctx, cache.Options{
		Driver:    c.Cache.Driver,
		DSN:       c.Cache.DSN,
		KeyPrefix: c.Cache.KeyPrefix,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	layer := cache.NewLayer(store, c.CacheDisabledSources()...)

	limits := ratelimit.NewRegistry(ratelimit.Config{
		MaxCalls:      c.RateLimit.MaxCalls,
		Window:        c.RateLimit.Window(),
		BackoffBase:   c.RateLimit.BackoffBase(),
		BackoffMax:    c.RateLimit.BackoffMax(),
		BackoffFactor: c.RateLimit.BackoffFactor,
	})
	gate := source.NewGate(layer, limits, resilience.RetryConfig{MaxAttempts: c.RateLimit.MaxAttempts})

	reg := buildSources(c, gate)
	res := resolver.New(reg,
		resolver.WithTimeout(time.Duration(c.Resolver.TimeoutSecs)*time.Second),
		resolver.WithConcurrency(c.Resolver.Concurrency),
	)

	env := &engineEnv{
		Cache:    layer,
		Limits:   limits,
		Resolver: res,
		Builder: graph.NewBuilder(res, dedup.Options{
			Threshold:          c.Dedup.SimilarityThreshold,
			PredicateThreshold: c.Dedup.PredicateThreshold,
			MaxGeoDistanceKm:   c.Dedup.MaxGeoDistanceKm,
		}),
	}
	if c.Anthropic.Key != "" {
		var opts []option.RequestOption
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(c.Anthropic.BaseURL))
		}
		env.Proposer = completion.NewLLMProposer(
			anthropicpkg.NewClient(c.Anthropic.Key, opts...),
			c.Anthropic.Model,
			c.Completion.MaxTokens,
			c.Completion.MaxNewEntities,
		)
	}

	zap.L().Info("engine ready",
		zap.Strings("sources", c.EnabledSources()),
		zap.Strings("cache_disabled", c.CacheDisabledSources()),
		zap.String("cache_driver", c.Cache.Driver),
		zap.String("language", c.Language),
		zap.Bool("completion", env.Proposer != nil),
	)
	return env, nil
}

// buildSources registers an adapter for every enabled source.
func buildSources(c *config.Config, gate *source.Gate) *source.Registry {
	opts := source.Options{Lang: c.Language, Details: c.Sources.AdditionalDetails}
	ua := c.Resolver.UserAgent
	reg := source.NewRegistry()

	if s := c.Sources.Wikipedia; s.Enabled {
		wpOpts := []wikipedia.Option{wikipedia.WithUserAgent(ua)}
		if s.BaseURL != "" {
			wpOpts = append(wpOpts, wikipedia.WithBaseURL(s.BaseURL))
		}
		reg.Register(source.NewWikipedia(wikipedia.NewClient(wpOpts...), gate, opts))
	}
	if s := c.Sources.Wikidata; s.Enabled {
		wdOpts := []wikidata.Option{wikidata.WithUserAgent(ua)}
		if s.BaseURL != "" {
			wdOpts = append(wdOpts, wikidata.WithBaseURL(s.BaseURL))
		}
		reg.Register(source.NewWikidata(wikidata.NewClient(wdOpts...), gate, opts))
	}
	if s := c.Sources.DBpedia; s.Enabled {
		dbOpts := []dbpedia.Option{dbpedia.WithUserAgent(ua)}
		if s.FallbackURL != "" {
			dbOpts = append(dbOpts, dbpedia.WithLookupURL(s.FallbackURL))
		}
		endpoints := s.Endpoints
		if len(endpoints) == 0 && s.BaseURL != "" {
			endpoints = []string{s.BaseURL}
		}
		reg.Register(source.NewDBpedia(dbpedia.NewClient(dbOpts...), gate, opts, endpoints...))
	}
	return reg
}
