package idempotency

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a very small in-memory mock of the idempotency table. It
// emulates the two condition expressions the store issues.
// NOTE: This is intentionally minimal and not production-grade.
type simpleMock struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	getCalls    int
	updateCalls int
	scanCalls   int

	// failNext makes the next call of any kind return this error.
	failNext error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func compositeKey(item map[string]types.AttributeValue) (string, error) {
	actor, ok1 := item["actor_id"].(*types.AttributeValueMemberS)
	key, ok2 := item["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok1 || !ok2 {
		return "", errors.New("missing key")
	}
	return actor.Value + "|" + key.Value, nil
}

func (m *simpleMock) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := compositeKey(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(idempotency_key)" {
		if _, ok := m.table[k]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := compositeKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := compositeKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		// DynamoDB evaluates the condition against an empty item
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :claimed" {
		curr, _ := item["status"].(*types.AttributeValueMemberS)
		expected := params.ExpressionAttributeValues[":claimed"].(*types.AttributeValueMemberS)
		if curr == nil || curr.Value != expected.Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	updated := make(map[string]types.AttributeValue, len(item)+5)
	for name, v := range item {
		updated[name] = v
	}
	fields := map[string]string{
		":completed": "status",
		":code":      "response_status_code",
		":headers":   "response_headers",
		":body":      "response_body",
		":ca":        "completed_at",
	}
	for placeholder, attr := range fields {
		if v, ok := params.ExpressionAttributeValues[placeholder]; ok {
			updated[attr] = v
		}
	}
	m.table[k] = updated
	return &dyn.UpdateItemOutput{}, nil
}

func (m *simpleMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("transact write items not supported by the idempotency mock")
}

func (m *simpleMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	want := params.ExpressionAttributeValues[":claimed"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range m.table {
		if st, ok := item["status"].(*types.AttributeValueMemberS); ok && st.Value == want {
			items = append(items, item)
		}
	}
	return &dyn.ScanOutput{Items: items}, nil
}
