package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type result struct {
	Label string   `json:"label"`
	Items []string `json:"items"`
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Entry, error) { return nil, errors.New("disk on fire") }
func (failingStore) Put(context.Context, Entry) error            { return errors.New("disk on fire") }
func (failingStore) Prune(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk on fire")
}
func (failingStore) Close() error { return nil }

func TestKey_Normalizes(t *testing.T) {
	a := Key("wikipedia", "  Albert Einstein ", "EN")
	b := Key("wikipedia", "albert einstein", "en")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Key("wikidata", "albert einstein", "en"))
	assert.NotEqual(t, a, Key("wikipedia", "albert einstein", "de"))
	assert.Contains(t, a, "wikipedia:en:")
}

func TestLayer_MissThenHit(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()
	key := Key("wikidata", "Q937", "en")

	var calls int32
	fn := func(context.Context) (result, error) {
		atomic.AddInt32(&calls, 1)
		return result{Label: "Albert Einstein", Items: []string{"Q5"}}, nil
	}

	first, err := Fetch(ctx, l, "wikidata", key, fn)
	require.NoError(t, err)
	second, err := Fetch(ctx, l, "wikidata", key, fn)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLayer_EmptyResultIsCached(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()
	key := Key("dbpedia", "lookup:zzzz", "en")

	var calls int32
	fn := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{}, nil
	}
	_, err := Fetch(ctx, l, "dbpedia", key, fn)
	require.NoError(t, err)
	_, err = Fetch(ctx, l, "dbpedia", key, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLayer_ErrorsAreNotCached(t *testing.T) {
	store := NewMemoryStore()
	l := NewLayer(store)
	ctx := context.Background()
	key := Key("wikipedia", "Einstein", "en")

	_, err := Fetch(ctx, l, "wikipedia", key, func(context.Context) (result, error) {
		return result{}, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())

	got, err := Fetch(ctx, l, "wikipedia", key, func(context.Context) (result, error) {
		return result{Label: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Label)
	assert.Equal(t, 1, store.Len())
}

func TestLayer_DisabledSourceBypasses(t *testing.T) {
	store := NewMemoryStore()
	l := NewLayer(store, "dbpedia")
	ctx := context.Background()

	assert.False(t, l.Enabled("dbpedia"))
	assert.True(t, l.Enabled("wikidata"))

	var calls int32
	fn := func(context.Context) (result, error) {
		atomic.AddInt32(&calls, 1)
		return result{Label: "x"}, nil
	}
	for range 3 {
		_, err := Fetch(ctx, l, "dbpedia", Key("dbpedia", "x", "en"), fn)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, store.Len())
}

func TestLayer_NilStoreDisablesAll(t *testing.T) {
	l := NewLayer(nil)
	assert.False(t, l.Enabled("wikipedia"))

	n, err := l.Prune(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, l.Close())
}

func TestLayer_FailingStoreDegradesToMiss(t *testing.T) {
	l := NewLayer(failingStore{})
	ctx := context.Background()

	_, ok := l.Get(ctx, "wikipedia", "k")
	assert.False(t, ok)
	l.Put(ctx, "wikipedia", "k", []byte(`{}`))

	got, err := Fetch(ctx, l, "wikipedia", "k", func(context.Context) (result, error) {
		return result{Label: "live"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "live", got.Label)

	_, err = l.Prune(ctx, time.Now())
	assert.Error(t, err)
}

func TestLayer_UndecodableEntryRefetches(t *testing.T) {
	store := NewMemoryStore()
	l := NewLayer(store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Entry{Key: "k", Payload: []byte("not json"), StoredAt: time.Now()}))

	got, err := Fetch(ctx, l, "wikipedia", "k", func(context.Context) (result, error) {
		return result{Label: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Label)
}

func TestFetch_ConcurrentMissesShareOneCall(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()
	key := Key("wikidata", "Q42", "en")

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) (result, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return result{Label: "Douglas Adams"}, nil
	}

	var wg sync.WaitGroup
	results := make([]result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := Fetch(ctx, l, "wikidata", key, fn)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "Douglas Adams", r.Label)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestFetch_JoinedCallerSurvivesInitiatorTimeout(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	key := Key("wikipedia", "query:apple", "en")

	var calls int32
	fn := func(ctx context.Context) (result, error) {
		atomic.AddInt32(&calls, 1)
		if _, ok := ctx.Deadline(); ok {
			<-ctx.Done()
			return result{}, ctx.Err()
		}
		return result{Label: "Apple"}, nil
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var shortErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = Fetch(short, l, "wikipedia", key, fn)
	}()
	time.Sleep(5 * time.Millisecond)

	got, err := Fetch(context.Background(), l, "wikipedia", key, fn)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, "Apple", got.Label)
	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestFetch_CallerCancelReturnsPromptly(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	key := Key("wikidata", "Q1", "en")

	release := make(chan struct{})
	defer close(release)
	go func() {
		_, _ = Fetch(context.Background(), l, "wikidata", key, func(context.Context) (result, error) {
			<-release
			return result{Label: "late"}, nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fetch(ctx, l, "wikidata", key, func(context.Context) (result, error) {
		<-release
		return result{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_FirstWriteWins(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, Entry{Key: "a", Payload: []byte("1")}))
	require.NoError(t, m.Put(ctx, Entry{Key: "a", Payload: []byte("2")}))
	require.NoError(t, m.Put(ctx, Entry{Key: "b", Payload: []byte("3")}))

	a, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), a.Payload)

	b, err := m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), b.Payload)

	_, err = m.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	s, err := NewSQLite(ctx, dsn)
	require.NoError(t, err)
	l := NewLayer(s)
	key := Key("wikipedia", "Albert Einstein", "en")
	_, err = Fetch(ctx, l, "wikipedia", key, func(context.Context) (result, error) {
		return result{Label: "Albert Einstein"}, nil
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	s2, err := NewSQLite(ctx, dsn)
	require.NoError(t, err)
	defer s2.Close()
	l2 := NewLayer(s2)

	got, err := Fetch(ctx, l2, "wikipedia", key, func(context.Context) (result, error) {
		t.Fatal("expected cache hit after reopen")
		return result{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Albert Einstein", got.Label)
}

func TestSQLiteStore_FirstWriteWinsAndPrune(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Put(ctx, Entry{Key: "old", Payload: []byte("1"), StoredAt: old}))
	require.NoError(t, s.Put(ctx, Entry{Key: "old", Payload: []byte("2"), StoredAt: time.Now()}))
	require.NoError(t, s.Put(ctx, Entry{Key: "new", Payload: []byte("3"), StoredAt: time.Now()}))

	e, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), e.Payload)

	n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestPostgresStore_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT cache_key, payload, stored_at FROM response_cache").
		WithArgs("k1").
		WillReturnRows(pgxmock.NewRows([]string{"cache_key", "payload", "stored_at"}).
			AddRow("k1", []byte(`{"label":"x"}`), now))

	s := newPostgresStore(mock)
	e, err := s.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", e.Key)
	assert.Equal(t, []byte(`{"label":"x"}`), e.Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT cache_key, payload, stored_at FROM response_cache").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"cache_key", "payload", "stored_at"}))

	s := newPostgresStore(mock)
	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutAndPrune(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS response_cache").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO response_cache").
		WithArgs("k1", []byte("v"), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM response_cache").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	s := newPostgresStore(mock)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Put(ctx, Entry{Key: "k1", Payload: []byte("v"), StoredAt: now}))
	n, err := s.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	s := NewRedisWithClient(rdb, "")
	assert.Equal(t, "entitygraph:cache:wikidata:en:abc", s.redisKey("wikidata:en:abc"))

	s = NewRedisWithClient(rdb, "test:")
	assert.Equal(t, "test:k", s.redisKey("k"))
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Driver: "postgres"})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Driver: "redis"})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Driver: "cassandra"})
	assert.Error(t, err)
}
