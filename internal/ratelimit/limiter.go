// Package ratelimit gates outbound calls per source with a sliding-window call
// budget and exponential backoff on throttling signals.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls one source's call budget and backoff.
type Config struct {
	// MaxCalls is the maximum number of acquisitions within any Window.
	MaxCalls int
	// Window is the sliding window length.
	Window time.Duration
	// BackoffBase is the pause applied after the first throttling signal.
	BackoffBase time.Duration
	// BackoffMax caps the backoff pause.
	BackoffMax time.Duration
	// BackoffFactor multiplies the pause after each further throttle.
	BackoffFactor float64
}

// DefaultConfig returns a conservative budget suitable for public APIs.
func DefaultConfig() Config {
	return Config{
		MaxCalls:      10,
		Window:        time.Second,
		BackoffBase:   500 * time.Millisecond,
		BackoffMax:    30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxCalls <= 0 {
		c.MaxCalls = d.MaxCalls
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	return c
}

// Budget is a snapshot of a source's rate state.
type Budget struct {
	CallsInWindow int           `json:"calls_in_window"`
	Delay         time.Duration `json:"delay"`
	BackoffUntil  time.Time     `json:"backoff_until,omitempty"`
}

// Limiter gates calls for a single source. It is safe for concurrent use.
type Limiter struct {
	source string
	cfg    Config

	mu        sync.Mutex
	grants    []time.Time // acquisition times inside the current window, oldest first
	delay     time.Duration
	notBefore time.Time

	waitLog rate.Sometimes
	nowFunc func() time.Time
}

// NewLimiter creates a limiter for source.
func NewLimiter(source string, cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		source:  source,
		cfg:     cfg,
		delay:   cfg.BackoffBase,
		grants:  make([]time.Time, 0, cfg.MaxCalls),
		waitLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
		nowFunc: time.Now,
	}
}

// Acquire blocks until a call slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait := l.tryGrant()
		if wait <= 0 {
			return nil
		}

		l.waitLog.Do(func() {
			zap.L().Debug("ratelimit: waiting for slot",
				zap.String("source", l.source),
				zap.Duration("wait", wait),
			)
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrapf(ctx.Err(), "ratelimit: acquire %s", l.source)
		case <-timer.C:
		}
	}
}

// tryGrant records an acquisition and returns 0, or returns how long the
// caller must wait before trying again.
func (l *Limiter) tryGrant() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if now.Before(l.notBefore) {
		return l.notBefore.Sub(now)
	}

	l.pruneLocked(now)
	if len(l.grants) >= l.cfg.MaxCalls {
		return l.grants[0].Add(l.cfg.Window).Sub(now)
	}

	l.grants = append(l.grants, now)
	return 0
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// Throttled records a throttling signal. The next acquisition is held back by
// the current delay (or retryAfter, if longer) and the delay grows by the
// backoff factor up to the configured maximum.
func (l *Limiter) Throttled(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pause := l.delay
	if retryAfter > pause {
		pause = retryAfter
	}
	until := l.nowFunc().Add(pause)
	if until.After(l.notBefore) {
		l.notBefore = until
	}

	next := time.Duration(float64(l.delay) * l.cfg.BackoffFactor)
	if next > l.cfg.BackoffMax {
		next = l.cfg.BackoffMax
	}
	l.delay = next

	zap.L().Warn("ratelimit: source throttled, backing off",
		zap.String("source", l.source),
		zap.Duration("pause", pause),
		zap.Duration("next_delay", next),
	)
}

// Success resets the backoff delay to its base after a successful call.
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = l.cfg.BackoffBase
}

// Delay returns the pause the next throttling signal will apply.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// Budget returns a snapshot of the limiter state.
func (l *Limiter) Budget() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.nowFunc())
	return Budget{
		CallsInWindow: len(l.grants),
		Delay:         l.delay,
		BackoffUntil:  l.notBefore,
	}
}
