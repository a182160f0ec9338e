package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a local SQLite file. It is the default
// driver and survives process restarts.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS response_cache (
	cache_key TEXT PRIMARY KEY,
	payload   BLOB NOT NULL,
	stored_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_response_cache_stored_at ON response_cache(stored_at);
`

// NewSQLite opens (or creates) the cache database at dsn in WAL mode and
// applies the schema.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx,
		`SELECT cache_key, payload, stored_at FROM response_cache WHERE cache_key = ?`, key,
	).Scan(&e.Key, &e.Payload, &e.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	return &e, nil
}

// Put keeps the first entry for a key; later writes are ignored.
func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_cache (cache_key, payload, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT (cache_key) DO NOTHING`,
		e.Key, e.Payload, e.StoredAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE stored_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune cache")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: prune rows affected")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
