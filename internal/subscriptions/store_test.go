package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDynamoRepository() (*DynamoRepository, *mockDynamo) {
	mock := newMockDynamo()
	return NewDynamoRepository(mock, "subscriptions", "tokens"), mock
}

func insertPending(t *testing.T, repo *DynamoRepository, email, id string, token Token) UnitOfWork {
	t.Helper()
	ctx := context.Background()
	uow, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.InsertSubscriber(ctx, Subscriber{
		ID:           id,
		Email:        email,
		Name:         "le guin",
		Status:       StatusPendingConfirmation,
		SubscribedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, uow.StoreToken(ctx, id, token))
	return uow
}

func TestDynamoRepository_CommitWritesBothRows(t *testing.T) {
	repo, mock := newTestDynamoRepository()
	ctx := context.Background()
	token := Token("abcdefghijklmnopqrstuvwxy")

	uow := insertPending(t, repo, "ursula_le_guin@gmail.com", "sub-1", token)

	// nothing is visible before commit
	assert.Empty(t, mock.tables["subscriptions"])
	require.NoError(t, uow.Commit(ctx))

	item := mock.tables["subscriptions"]["ursula_le_guin@gmail.com"]
	require.NotNil(t, item)
	assert.Equal(t, StatusPendingConfirmation, item["status"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, token.String(), item["subscription_token"].(*types.AttributeValueMemberS).Value)

	owner, err := repo.LookupToken(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, TokenOwner{SubscriberID: "sub-1", Email: "ursula_le_guin@gmail.com"}, *owner)

	next, err := repo.Begin(ctx)
	require.NoError(t, err)
	found, ok, err := next.TokenForEmail(ctx, "ursula_le_guin@gmail.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, token, found)
}

func TestDynamoRepository_RollbackWritesNothing(t *testing.T) {
	repo, mock := newTestDynamoRepository()

	uow := insertPending(t, repo, "ursula_le_guin@gmail.com", "sub-1", "abcdefghijklmnopqrstuvwxy")
	require.NoError(t, uow.Rollback(context.Background()))

	assert.Empty(t, mock.tables["subscriptions"])
	assert.Empty(t, mock.tables["tokens"])
}

func TestDynamoRepository_DuplicateEmailLosesTheRace(t *testing.T) {
	repo, mock := newTestDynamoRepository()
	ctx := context.Background()

	first := insertPending(t, repo, "ursula_le_guin@gmail.com", "sub-1", "aaaaaaaaaaaaaaaaaaaaaaaaa")
	second := insertPending(t, repo, "ursula_le_guin@gmail.com", "sub-2", "bbbbbbbbbbbbbbbbbbbbbbbbb")

	require.NoError(t, first.Commit(ctx))
	assert.ErrorIs(t, second.Commit(ctx), ErrDuplicateEmail)

	assert.Len(t, mock.tables["subscriptions"], 1)
	assert.Len(t, mock.tables["tokens"], 1)
}

func TestDynamoRepository_ConfirmIsIdempotent(t *testing.T) {
	repo, mock := newTestDynamoRepository()
	ctx := context.Background()
	require.NoError(t, insertPending(t, repo, "ursula_le_guin@gmail.com", "sub-1", "abcdefghijklmnopqrstuvwxy").Commit(ctx))

	owner := TokenOwner{SubscriberID: "sub-1", Email: "ursula_le_guin@gmail.com"}

	changed, err := repo.Confirm(ctx, owner)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Confirm(ctx, owner)
	require.NoError(t, err)
	assert.False(t, changed)

	item := mock.tables["subscriptions"]["ursula_le_guin@gmail.com"]
	assert.Equal(t, StatusConfirmed, item["status"].(*types.AttributeValueMemberS).Value)

	_, err = repo.Confirm(ctx, TokenOwner{SubscriberID: "someone-else", Email: "ursula_le_guin@gmail.com"})
	assert.Error(t, err)
}

func TestDynamoRepository_ForEachConfirmedPaginates(t *testing.T) {
	repo, _ := newTestDynamoRepository()
	ctx := context.Background()

	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}
	tokens := []Token{
		"aaaaaaaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbbb", "ccccccccccccccccccccccccc",
		"ddddddddddddddddddddddddd", "eeeeeeeeeeeeeeeeeeeeeeeee",
	}
	for i, e := range emails {
		id := "sub-" + e
		require.NoError(t, insertPending(t, repo, e, id, tokens[i]).Commit(ctx))
		if i%2 == 0 {
			_, err := repo.Confirm(ctx, TokenOwner{SubscriberID: id, Email: e})
			require.NoError(t, err)
		}
	}

	var got []string
	require.NoError(t, repo.ForEachConfirmed(ctx, func(e string) error {
		got = append(got, e)
		return nil
	}))
	assert.Equal(t, []string{"a@example.com", "c@example.com", "e@example.com"}, got)
}

func TestDynamoRepository_LookupUnknownToken(t *testing.T) {
	repo, _ := newTestDynamoRepository()

	owner, err := repo.LookupToken(context.Background(), "abcdefghijklmnopqrstuvwxy")
	require.NoError(t, err)
	assert.Nil(t, owner)
}
