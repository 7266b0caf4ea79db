package idempotency

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/sqlitepool"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "idempotency.db"),
		PoolSize: 8,
		Schema:   sqlitepool.Schema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return NewSQLiteStore(pool)
}

func TestSQLiteStore_ClaimLookupComplete(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	res, err := s.Claim(ctx, "actor-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, Acquired, res)

	res, err = s.Claim(ctx, "actor-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyClaimed, res)

	cached, err := s.Lookup(ctx, "actor-1", "key-1")
	require.NoError(t, err)
	assert.Nil(t, cached)

	want := Response{
		StatusCode: 200,
		Headers:    []Header{{Name: "Content-Type", Value: "application/json; charset=utf-8"}},
		Body:       []byte(`{"message":"ok"}`),
	}
	require.NoError(t, s.Complete(ctx, "actor-1", "key-1", want))

	cached, err = s.Lookup(ctx, "actor-1", "key-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, want, *cached)

	assert.ErrorIs(t, s.Complete(ctx, "actor-1", "key-1", want), ErrNotClaimed)
	assert.ErrorIs(t, s.Complete(ctx, "actor-1", "other", want), ErrNotClaimed)
}

func TestSQLiteStore_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	const callers = 16
	results := make([]ClaimResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = s.Claim(ctx, "actor-1", "race")
		}(i)
	}
	close(start)
	wg.Wait()

	acquired := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if results[i] == Acquired {
			acquired++
		}
	}
	assert.Equal(t, 1, acquired)
}

func TestSQLiteStore_ListClaimed(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s.nowFunc = func() time.Time { return base }
	_, err := s.Claim(ctx, "actor-1", "stuck")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "actor-1", "done")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "actor-1", "done", Response{StatusCode: 200, Body: []byte("ok")}))

	s.nowFunc = func() time.Time { return base.Add(time.Hour) }
	_, err = s.Claim(ctx, "actor-2", "recent")
	require.NoError(t, err)

	records, err := s.ListClaimed(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "actor-1", records[0].ActorID)
	assert.Equal(t, Key("stuck"), records[0].Key)
	assert.True(t, records[0].CreatedAt.Equal(base))
}
