package users

import (
	"context"
	"strings"
	"sync"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func username(item map[string]types.AttributeValue) string {
	return item["username"].(*types.AttributeValueMemberS).Value
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := username(params.Item)
	if params.ConditionExpression != nil && strings.HasPrefix(*params.ConditionExpression, "attribute_not_exists") {
		if _, ok := m.items[pk]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dyn.GetItemOutput{Item: m.items[username(params.Key)]}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[username(params.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	item["password_hash"] = params.ExpressionAttributeValues[":h"]
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return &dyn.ScanOutput{}, nil
}

func TestDynamoRepository(t *testing.T) {
	repo := NewDynamoRepository(newMockDynamo(), "users")
	ctx := context.Background()

	_, err := repo.Get(ctx, "admin")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, "admin", "h2"), ErrNotFound)

	require.NoError(t, repo.Create(ctx, User{ID: "u1", Username: "admin", PasswordHash: "h1"}))
	assert.ErrorIs(t, repo.Create(ctx, User{ID: "u2", Username: "admin", PasswordHash: "h"}), ErrDuplicateUsername)

	require.NoError(t, repo.UpdatePasswordHash(ctx, "admin", "h2"))
	user, err := repo.Get(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", Username: "admin", PasswordHash: "h2"}, user)
}
