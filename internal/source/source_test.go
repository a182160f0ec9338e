package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-graph/internal/cache"
	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/internal/ratelimit"
	"github.com/sells-group/entity-graph/internal/resilience"
)

type stubAdapter struct{ id string }

func (s stubAdapter) ID() string { return s.id }
func (s stubAdapter) Resolve(context.Context, model.CandidateEntity) model.SourceRecord {
	return model.SourceRecord{SourceID: s.id, LinkStatus: model.LinkStatusNoMatch}
}

func found(label string) func(context.Context) (*model.SourceRecord, error) {
	return func(context.Context) (*model.SourceRecord, error) {
		return &model.SourceRecord{MatchedLabel: label, CanonicalID: label}, nil
	}
}

func miss(context.Context) (*model.SourceRecord, error) { return nil, nil }

func fail(context.Context) (*model.SourceRecord, error) {
	return nil, resilience.NewTransportError(errors.New("connection refused"), 0)
}

func TestRegistry_PriorityOrder(t *testing.T) {
	r := NewRegistry(stubAdapter{"zeta"}, stubAdapter{DBpedia}, stubAdapter{"alpha"}, stubAdapter{Wikipedia}, stubAdapter{Wikidata})

	var ids []string
	for _, a := range r.Adapters() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{Wikipedia, Wikidata, DBpedia, "alpha", "zeta"}, ids)
	assert.NotNil(t, r.Get(Wikidata))
	assert.Nil(t, r.Get("nope"))

	var nilReg *Registry
	assert.Empty(t, nilReg.Adapters())
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		attempts []Attempt
		status   model.LinkStatus
		attempt  string
	}{
		{
			name:     "primary hit",
			attempts: []Attempt{{"primary", found("A")}, {"secondary", found("B")}},
			status:   model.LinkStatusLinked,
			attempt:  "primary",
		},
		{
			name:     "fallback on miss",
			attempts: []Attempt{{"primary", miss}, {"secondary", found("B")}},
			status:   model.LinkStatusLinked,
			attempt:  "secondary",
		},
		{
			name:     "fallback on error",
			attempts: []Attempt{{"mirror1", fail}, {"mirror2", found("B")}},
			status:   model.LinkStatusLinked,
			attempt:  "mirror2",
		},
		{
			name:     "all miss",
			attempts: []Attempt{{"primary", miss}, {"secondary", miss}},
			status:   model.LinkStatusNoMatch,
		},
		{
			name:     "error then miss",
			attempts: []Attempt{{"primary", fail}, {"secondary", miss}},
			status:   model.LinkStatusError,
			attempt:  "primary",
		},
		{
			name:   "no attempts",
			status: model.LinkStatusNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Chain(ctx, "test", tt.attempts...)
			assert.Equal(t, "test", rec.SourceID)
			assert.Equal(t, tt.status, rec.LinkStatus)
			assert.Equal(t, tt.attempt, rec.Attempt)
			if tt.status == model.LinkStatusError {
				assert.Contains(t, rec.Err, "connection refused")
				assert.Equal(t, resilience.KindTransport, rec.ErrKind)
			} else {
				assert.Empty(t, rec.ErrKind)
			}
		})
	}
}

func TestChain_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran bool
	rec := Chain(ctx, "test", Attempt{"primary", func(context.Context) (*model.SourceRecord, error) {
		ran = true
		return &model.SourceRecord{}, nil
	}})
	assert.False(t, ran)
	assert.Equal(t, model.LinkStatusError, rec.LinkStatus)
	assert.Equal(t, resilience.KindTimeout, rec.ErrKind)
}

func TestChain_ThrottledKind(t *testing.T) {
	rec := Chain(context.Background(), "test", Attempt{"primary", func(context.Context) (*model.SourceRecord, error) {
		return nil, resilience.NewThrottledError(errors.New("429"), 0)
	}})
	assert.Equal(t, model.LinkStatusError, rec.LinkStatus)
	assert.Equal(t, resilience.KindThrottled, rec.ErrKind)
}

func TestGate_CachesAcrossCalls(t *testing.T) {
	store := cache.NewMemoryStore()
	g := NewGate(cache.NewLayer(store), ratelimit.NewRegistry(ratelimit.DefaultConfig()), resilience.DefaultRetryConfig())
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "Albert Einstein", nil
	}

	for _, q := range []string{"Einstein", "  einstein", "EINSTEIN "} {
		got, err := Do(ctx, g, Wikipedia, "en", q, "query", fn)
		require.NoError(t, err)
		assert.Equal(t, "Albert Einstein", got)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, store.Len())

	// A different operation on the same text is a different entry.
	_, err := Do(ctx, g, Wikipedia, "en", "Einstein", "opensearch", fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGate_RetriesThrottledThroughLimiter(t *testing.T) {
	limits := ratelimit.NewRegistry(ratelimit.Config{
		MaxCalls:      100,
		Window:        time.Second,
		BackoffBase:   5 * time.Millisecond,
		BackoffMax:    20 * time.Millisecond,
		BackoffFactor: 2,
	})
	g := NewGate(cache.NewLayer(cache.NewMemoryStore()), limits, resilience.RetryConfig{MaxAttempts: 3})

	var calls int32
	got, err := Do(context.Background(), g, Wikidata, "en", "Q937", "entities", func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", resilience.NewThrottledError(errors.New("429"), 0)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 5*time.Millisecond, limits.Limiter(Wikidata).Delay())
}

func TestGate_ErrorsNotCached(t *testing.T) {
	store := cache.NewMemoryStore()
	g := NewGate(cache.NewLayer(store), nil, resilience.DefaultRetryConfig())

	_, err := Do(context.Background(), g, DBpedia, "en", "x", "lookup", func(context.Context) ([]string, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestGate_Nil(t *testing.T) {
	got, err := Do(context.Background(), nil, DBpedia, "en", "x", "lookup", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
