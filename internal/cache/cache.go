// Package cache provides a persistent, source-scoped response cache that sits
// in front of every remote source call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by a Store when a key has no entry.
var ErrNotFound = eris.New("cache: not found")

// Entry is one cached response. Entries are never mutated after creation and
// never expire on their own; Prune exists for external housekeeping.
type Entry struct {
	Key      string
	Payload  []byte
	StoredAt time.Time
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Key builds the normalized query signature for a source call. The query is
// trimmed and lowercased so that differently-cased equivalent queries share an
// entry; the result is prefixed with the source id and language so entries
// stay source-scoped.
func Key(sourceID, query, lang string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s:%s:%x", sourceID, strings.ToLower(strings.TrimSpace(lang)), h)
}

// Layer wraps a Store with per-source enable flags and failure isolation. A
// store failure never reaches the caller: reads degrade to a miss and writes
// are dropped, both with a warning.
type Layer struct {
	store    Store
	disabled map[string]bool
	group    singleflight.Group
	nowFunc  func() time.Time
}

// NewLayer creates a cache layer. Sources listed in disabled bypass the cache.
// A nil store disables caching for every source.
func NewLayer(store Store, disabled ...string) *Layer {
	l := &Layer{
		store:    store,
		disabled: make(map[string]bool, len(disabled)),
		nowFunc:  time.Now,
	}
	for _, s := range disabled {
		l.disabled[s] = true
	}
	return l
}

// Enabled reports whether calls for sourceID go through the cache.
func (l *Layer) Enabled(sourceID string) bool {
	return l != nil && l.store != nil && !l.disabled[sourceID]
}

// Get returns the cached payload for key, or false on a miss, a disabled
// source, or a store failure.
func (l *Layer) Get(ctx context.Context, sourceID, key string) ([]byte, bool) {
	if !l.Enabled(sourceID) {
		return nil, false
	}
	e, err := l.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			zap.L().Warn("cache: read failed, treating as miss",
				zap.String("source", sourceID),
				zap.String("key", shortKey(key)),
				zap.Error(err),
			)
		}
		return nil, false
	}
	zap.L().Debug("cache: hit", zap.String("source", sourceID), zap.String("key", shortKey(key)))
	return e.Payload, true
}

// Put stores payload under key. Failures are logged and swallowed.
func (l *Layer) Put(ctx context.Context, sourceID, key string, payload []byte) {
	if !l.Enabled(sourceID) {
		return
	}
	err := l.store.Put(ctx, Entry{Key: key, Payload: payload, StoredAt: l.nowFunc().UTC()})
	if err != nil {
		zap.L().Warn("cache: write failed",
			zap.String("source", sourceID),
			zap.String("key", shortKey(key)),
			zap.Error(err),
		)
	}
}

// Fetch returns the cached value for key or, on a miss, calls fn and caches
// its JSON-encoded result. Concurrent misses for the same key share a single
// call. Each caller waits on its own ctx; a shared call that failed only
// because its initiator's ctx ended is retried by callers whose ctx is still
// live. Errors from fn are returned uncached.
func Fetch[T any](ctx context.Context, l *Layer, sourceID, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	if !l.Enabled(sourceID) {
		return fn(ctx)
	}

	if payload, ok := l.Get(ctx, sourceID, key); ok {
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			return v, nil
		}
		zap.L().Warn("cache: undecodable entry, refetching",
			zap.String("source", sourceID),
			zap.String("key", shortKey(key)),
		)
	}

	ch := l.group.DoChan(key, func() (any, error) {
		return load(ctx, l, sourceID, key, fn)
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil && isContextErr(r.Err) && ctx.Err() == nil {
			zap.L().Debug("cache: shared call canceled, fetching again",
				zap.String("source", sourceID),
				zap.String("key", shortKey(key)),
			)
			return load(ctx, l, sourceID, key, fn)
		}
		v, _ := r.Val.(T)
		return v, r.Err
	}
}

func load[T any](ctx context.Context, l *Layer, sourceID, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	payload, mErr := json.Marshal(v)
	if mErr != nil {
		zap.L().Warn("cache: encode failed", zap.String("source", sourceID), zap.Error(mErr))
		return v, nil
	}
	l.Put(ctx, sourceID, key, payload)
	return v, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Prune deletes entries stored before olderThan.
func (l *Layer) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if l == nil || l.store == nil {
		return 0, nil
	}
	n, err := l.store.Prune(ctx, olderThan)
	if err != nil {
		return 0, eris.Wrap(err, "cache: prune")
	}
	return n, nil
}

// Close releases the underlying store.
func (l *Layer) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}

func shortKey(key string) string {
	if len(key) > 40 {
		return key[:40]
	}
	return key
}
