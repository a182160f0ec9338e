// Package resolver fans a candidate out to every enabled source adapter and
// merges the answers into one resolved entity.
package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/internal/source"
)

// DefaultTimeout bounds one candidate's resolution across all sources.
const DefaultTimeout = 30 * time.Second

// Resolver resolves candidates against a set of source adapters.
type Resolver struct {
	sources     *source.Registry
	timeout     time.Duration
	concurrency int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the per-candidate timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithConcurrency caps how many candidates ResolveMany resolves at once.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a Resolver over the enabled sources in reg.
func New(reg *source.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		sources:     reg,
		timeout:     DefaultTimeout,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAll queries every enabled source concurrently and merges the
// records in source priority order. A failing or timed-out source yields an
// error record; it never prevents the others from answering. A candidate
// with no enabled sources resolves to an entity without records.
func (r *Resolver) ResolveAll(ctx context.Context, c model.CandidateEntity) model.ResolvedEntity {
	adapters := r.sources.Adapters()
	if len(adapters) == 0 {
		return model.NewResolvedEntity(c, nil)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	records := make([]model.SourceRecord, len(adapters))

	// Adapters never return errors, so the group only provides the join.
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			records[i] = a.Resolve(ctx, c)
			if records[i].SourceID == "" {
				records[i].SourceID = a.ID()
			}
			return nil
		})
	}
	_ = g.Wait()

	e := model.NewResolvedEntity(c, records)
	zap.L().Debug("resolver: resolved candidate",
		zap.String("name", c.Name),
		zap.String("type", e.Type),
		zap.Int("linked", e.LinkedCount()),
		zap.Int("sources", len(records)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return e
}

// ResolveMany resolves candidates with bounded concurrency. The output order
// matches the input order.
func (r *Resolver) ResolveMany(ctx context.Context, candidates []model.CandidateEntity) []model.ResolvedEntity {
	out := make([]model.ResolvedEntity, len(candidates))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			out[i] = r.ResolveAll(gCtx, c)
			return nil
		})
	}
	_ = g.Wait()

	linked := 0
	for _, e := range out {
		if e.LinkedCount() > 0 {
			linked++
		}
	}
	zap.L().Info("resolver: batch complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("linked", linked),
		zap.Int("unlinked", len(candidates)-linked),
	)
	return out
}
