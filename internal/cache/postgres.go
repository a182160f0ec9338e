package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// pool is the subset of pgxpool.Pool used by PostgresStore.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore persists entries in a shared Postgres table so several
// processes can reuse each other's lookups.
type PostgresStore struct {
	pool pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS response_cache (
	cache_key TEXT PRIMARY KEY,
	payload   BYTEA NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_response_cache_stored_at ON response_cache (stored_at);`

// NewPostgres connects to databaseURL and applies the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	s := newPostgresStore(p)
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(p pool) *PostgresStore {
	return &PostgresStore{pool: p}
}

// Migrate creates the cache table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return eris.Wrap(err, "postgres: migrate cache")
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx,
		`SELECT cache_key, payload, stored_at FROM response_cache WHERE cache_key = $1`, key,
	).Scan(&e.Key, &e.Payload, &e.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	return &e, nil
}

// Put keeps the first entry for a key; later writes are ignored.
func (s *PostgresStore) Put(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO response_cache (cache_key, payload, stored_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO NOTHING`,
		e.Key, e.Payload, e.StoredAt,
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM response_cache WHERE stored_at < $1`, olderThan)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune cache")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
