package subscriptions

import (
	"context"
	"errors"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a simple mock that supports TransactWriteItems, PutItem, GetItem, UpdateItem and Scan.
// It stores items per table in a nested map: table -> pkValue -> item map.
type mockDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	pkByName map[string]string
	pageSize int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
		pkByName: map[string]string{
			"subscriptions": "email",
			"tokens":        "subscription_token",
		},
		pageSize: 2,
	}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func (m *mockDynamo) pk(table string, item map[string]types.AttributeValue) (string, error) {
	attr, ok := item[m.pkByName[table]].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("no primary key in item")
	}
	return attr.Value, nil
}

// notExistsCondition returns true when expr is attribute_not_exists(pk) and the item exists.
func (m *mockDynamo) conditionFails(table string, expr *string, pk string) bool {
	if expr == nil || !strings.HasPrefix(*expr, "attribute_not_exists(") {
		return false
	}
	_, exists := m.table(table)[pk]
	return exists
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	pk, err := m.pk(table, params.Item)
	if err != nil {
		return nil, err
	}
	if m.conditionFails(table, params.ConditionExpression, pk) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.table(table)[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	pk, err := m.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(table)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

// UpdateItem understands the confirm update only.
func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	pk, err := m.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.table(table)[pk]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "subscriber_id = :id" {
		curr, _ := item["subscriber_id"].(*types.AttributeValueMemberS)
		want := params.ExpressionAttributeValues[":id"].(*types.AttributeValueMemberS)
		if curr == nil || curr.Value != want.Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	old := map[string]types.AttributeValue{}
	if v, ok := item["status"]; ok {
		old["status"] = v
	}
	if v, ok := item["confirmed_at"]; ok {
		old["confirmed_at"] = v
	} else {
		item["confirmed_at"] = params.ExpressionAttributeValues[":ca"]
	}
	item["status"] = params.ExpressionAttributeValues[":confirmed"]
	m.table(table)[pk] = item

	if params.ReturnValues == types.ReturnValueUpdatedOld {
		return &dyn.UpdateItemOutput{Attributes: old}, nil
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	cancelled := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		p := it.Put
		if p == nil {
			return nil, errors.New("only puts are supported")
		}
		pk, err := m.pk(*p.TableName, p.Item)
		if err != nil {
			return nil, err
		}
		if m.conditionFails(*p.TableName, p.ConditionExpression, pk) {
			reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed")}
			cancelled = true
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, it := range params.TransactItems {
		pk, _ := m.pk(*it.Put.TableName, it.Put.Item)
		m.table(*it.Put.TableName)[pk] = it.Put.Item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// Scan pages through the table in key order, pageSize items at a time,
// applying the status filter after the page is cut like DynamoDB does.
func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	pkName := m.pkByName[table]

	keys := make([]string, 0, len(m.table(table)))
	for k := range m.table(table) {
		keys = append(keys, k)
	}
	sortStrings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		last := params.ExclusiveStartKey[pkName].(*types.AttributeValueMemberS).Value
		for start < len(keys) && keys[start] <= last {
			start++
		}
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	want := params.ExpressionAttributeValues[":confirmed"].(*types.AttributeValueMemberS).Value
	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		item := m.table(table)[k]
		if st, ok := item["status"].(*types.AttributeValueMemberS); ok && st.Value == want {
			out.Items = append(out.Items, map[string]types.AttributeValue{"email": item["email"]})
		}
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			pkName: &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
