package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	mu         sync.Mutex
	acquires   int
	throttles  []time.Duration
	successes  int
	acquireErr error
}

func (g *fakeGate) Acquire(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acquires++
	return g.acquireErr
}

func (g *fakeGate) Throttled(_ string, after time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.throttles = append(g.throttles, after)
}

func (g *fakeGate) Success(_ string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
}

func TestCall_SuccessFirstAttempt(t *testing.T) {
	gate := &fakeGate{}
	got, err := Call(context.Background(), gate, "wikidata", DefaultRetryConfig(), func(_ context.Context) (string, error) {
		return "Q937", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "Q937", got)
	assert.Equal(t, 1, gate.acquires)
	assert.Equal(t, 1, gate.successes)
	assert.Empty(t, gate.throttles)
}

func TestCall_RetriesThrottledThenSucceeds(t *testing.T) {
	gate := &fakeGate{}
	var retries []int
	cfg := RetryConfig{MaxAttempts: 3, OnRetry: func(attempt int, _ error) { retries = append(retries, attempt) }}

	calls := 0
	got, err := Call(context.Background(), gate, "dbpedia", cfg, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewThrottledError(errors.New("slow down"), 2*time.Second)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, gate.acquires)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, gate.throttles)
	assert.Equal(t, 1, gate.successes)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestCall_ThrottledExhaustsAttempts(t *testing.T) {
	gate := &fakeGate{}
	calls := 0
	_, err := Call(context.Background(), gate, "wikipedia", RetryConfig{MaxAttempts: 2}, func(_ context.Context) (int, error) {
		calls++
		return 0, NewThrottledError(errors.New("429"), 0)
	})

	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, gate.successes)
}

func TestCall_TransportErrorNotRetried(t *testing.T) {
	gate := &fakeGate{}
	calls := 0
	_, err := Call(context.Background(), gate, "wikipedia", DefaultRetryConfig(), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransportError(errors.New("bad gateway"), 502)
	})

	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, gate.throttles)
}

func TestCall_AcquireError(t *testing.T) {
	gate := &fakeGate{acquireErr: context.Canceled}
	calls := 0
	_, err := Call(context.Background(), gate, "wikipedia", DefaultRetryConfig(), func(_ context.Context) (int, error) {
		calls++
		return 1, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
	assert.Equal(t, 0, calls)
}

func TestFromStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/throttle" {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/throttle")
	require.NoError(t, err)
	resp.Body.Close()
	throttled := FromStatus(resp, nil)
	assert.True(t, IsThrottled(throttled))
	var te *ThrottledError
	require.True(t, errors.As(throttled, &te))
	assert.Equal(t, 7*time.Second, te.RetryAfter)

	resp, err = http.Get(srv.URL + "/other")
	require.NoError(t, err)
	resp.Body.Close()
	transport := FromStatus(resp, []byte("upstream down"))
	assert.False(t, IsThrottled(transport))
	assert.True(t, IsTransport(transport))
	assert.Contains(t, transport.Error(), "502")
	assert.Contains(t, transport.Error(), "upstream down")
}

func TestIsTransport_Patterns(t *testing.T) {
	assert.False(t, IsTransport(nil))
	assert.True(t, IsTransport(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransport(errors.New("dial tcp: lookup x: no such host")))
	assert.False(t, IsTransport(errors.New("json: cannot unmarshal")))
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "throttled", err: NewThrottledError(errors.New("429"), time.Second), want: KindThrottled},
		{name: "transport", err: NewTransportError(errors.New("502"), 502), want: KindTransport},
		{name: "network pattern", err: errors.New("read tcp: connection reset by peer"), want: KindTransport},
		{name: "deadline", err: NewTransportError(fmt.Errorf("get: %w", context.DeadlineExceeded), 0), want: KindTimeout},
		{name: "canceled", err: context.Canceled, want: KindTimeout},
		{name: "decode", err: errors.New("json: cannot unmarshal"), want: KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
