package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRepository_ForEachConfirmed(t *testing.T) {
	pool := newTestPool(t)
	repo := NewSQLiteRepository(pool)
	ctx := context.Background()

	subscribers := []struct {
		id, email string
		token     Token
		confirm   bool
	}{
		{"s1", "a@example.com", "aaaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"s2", "b@example.com", "bbbbbbbbbbbbbbbbbbbbbbbbb", false},
		{"s3", "not-an-email", "ccccccccccccccccccccccccc", true},
	}
	for i, s := range subscribers {
		uow, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, uow.InsertSubscriber(ctx, Subscriber{
			ID:           s.id,
			Email:        s.email,
			Name:         "n",
			Status:       StatusPendingConfirmation,
			SubscribedAt: time.Date(2024, 5, 1, 12, i, 0, 0, time.UTC),
		}))
		require.NoError(t, uow.StoreToken(ctx, s.id, s.token))
		require.NoError(t, uow.Commit(ctx))
		if s.confirm {
			changed, err := repo.Confirm(ctx, TokenOwner{SubscriberID: s.id, Email: s.email})
			require.NoError(t, err)
			assert.True(t, changed)
		}
	}

	var got []string
	require.NoError(t, repo.ForEachConfirmed(ctx, func(e string) error {
		got = append(got, e)
		return nil
	}))
	assert.Equal(t, []string{"a@example.com", "not-an-email"}, got)

	stop := errors.New("stop")
	calls := 0
	err := repo.ForEachConfirmed(ctx, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSQLiteRepository_RollbackDiscardsWrites(t *testing.T) {
	pool := newTestPool(t)
	repo := NewSQLiteRepository(pool)
	ctx := context.Background()

	uow, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.InsertSubscriber(ctx, Subscriber{
		ID: "s1", Email: "a@example.com", Name: "n",
		Status: StatusPendingConfirmation, SubscribedAt: time.Now(),
	}))
	require.NoError(t, uow.StoreToken(ctx, "s1", "aaaaaaaaaaaaaaaaaaaaaaaaa"))
	require.NoError(t, uow.Rollback(ctx))
	// a second rollback and a late commit are both harmless
	require.NoError(t, uow.Rollback(ctx))
	assert.Error(t, uow.Commit(ctx))

	assert.Empty(t, querySubscribers(t, pool))
	owner, err := repo.LookupToken(ctx, "aaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Nil(t, owner)
}

func TestSQLiteRepository_TokenRequiresSubscriber(t *testing.T) {
	pool := newTestPool(t)
	repo := NewSQLiteRepository(pool)
	ctx := context.Background()

	uow, err := repo.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback(ctx)

	assert.Error(t, uow.StoreToken(ctx, "missing", "aaaaaaaaaaaaaaaaaaaaaaaaa"))
}

func TestSQLiteRepository_InsertDuplicateEmail(t *testing.T) {
	pool := newTestPool(t)
	repo := NewSQLiteRepository(pool)
	ctx := context.Background()

	uow, err := repo.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback(ctx)

	sub := Subscriber{ID: "s1", Email: "a@example.com", Name: "n", Status: StatusPendingConfirmation, SubscribedAt: time.Now()}
	require.NoError(t, uow.InsertSubscriber(ctx, sub))
	sub.ID = "s2"
	assert.ErrorIs(t, uow.InsertSubscriber(ctx, sub), ErrDuplicateEmail)
}
