package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore persists entries as Redis hashes under a key prefix. Entries are
// written with HSETNX semantics so the first response for a key wins.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return NewRedisWithClient(rdb, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "entitygraph:cache:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	vals, err := s.rdb.HMGet(ctx, s.redisKey(key), "payload", "stored_at").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "redis: get cache entry")
	}
	payload, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	e := &Entry{Key: key, Payload: []byte(payload)}
	if ts, ok := vals[1].(string); ok {
		if unix, err := strconv.ParseInt(ts, 10, 64); err == nil {
			e.StoredAt = time.Unix(0, unix).UTC()
		}
	}
	return e, nil
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	rk := s.redisKey(e.Key)
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSetNX(ctx, rk, "payload", e.Payload)
		p.HSetNX(ctx, rk, "stored_at", strconv.FormatInt(e.StoredAt.UnixNano(), 10))
		return nil
	})
	return eris.Wrap(err, "redis: put cache entry")
}

// Prune scans the prefix and deletes entries stored before olderThan.
func (s *RedisStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		rk := iter.Val()
		ts, err := s.rdb.HGet(ctx, rk, "stored_at").Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return n, eris.Wrap(err, "redis: read stored_at")
		}
		if time.Unix(0, ts).Before(olderThan) {
			deleted, err := s.rdb.Del(ctx, rk).Result()
			if err != nil {
				return n, eris.Wrap(err, "redis: delete cache entry")
			}
			n += deleted
		}
	}
	return n, eris.Wrap(iter.Err(), "redis: scan cache")
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
