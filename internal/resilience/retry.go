package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Gate admits outbound calls for a source and receives their outcome. It is
// implemented by ratelimit.Registry.
type Gate interface {
	Acquire(ctx context.Context, sourceID string) error
	Throttled(sourceID string, retryAfter time.Duration)
	Success(sourceID string)
}

// RetryConfig bounds how often a throttled call is retried.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// OnRetry is called before each retry with the attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used by the source adapters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3}
}

// Call runs fn behind gate for sourceID. Each attempt first acquires a slot.
// Only ThrottledError is retried, and each throttle is reported to the gate so
// the next Acquire backs off; any other error is returned immediately. Once
// attempts run out the last ThrottledError is returned.
func Call[T any](ctx context.Context, gate Gate, sourceID string, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := gate.Acquire(ctx, sourceID); err != nil {
			return zero, eris.Wrapf(err, "resilience: acquire %s", sourceID)
		}

		val, err := fn(ctx)
		if err == nil {
			gate.Success(sourceID)
			return val, nil
		}
		lastErr = err

		if !IsThrottled(err) || ctx.Err() != nil {
			return zero, err
		}

		var after time.Duration
		var te *ThrottledError
		if errors.As(err, &te) {
			after = te.RetryAfter
		}
		gate.Throttled(sourceID, after)

		if attempt < cfg.MaxAttempts && cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
	}
	return zero, lastErr
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(sourceID, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying throttled call",
			zap.String("source", sourceID),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
