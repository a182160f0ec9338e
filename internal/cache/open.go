package cache

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Options selects and configures the backing store.
type Options struct {
	Driver    string
	DSN       string
	KeyPrefix string
}

// Open creates the Store named by opts.Driver. An empty driver selects SQLite.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = "entity-graph-cache.db"
		}
		return NewSQLite(ctx, dsn)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, eris.New("cache: postgres driver requires a dsn")
		}
		return NewPostgres(ctx, opts.DSN)
	case DriverRedis:
		if opts.DSN == "" {
			return nil, eris.New("cache: redis driver requires a dsn")
		}
		return NewRedis(ctx, opts.DSN, opts.KeyPrefix)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", opts.Driver)
	}
}
