package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/aws"
)

// DynamoStore keeps idempotency records in a DynamoDB table with partition
// key actor_id and sort key idempotency_key.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a store bound to tableName.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// dynamoRecord is the shape persisted in the idempotency table.
type dynamoRecord struct {
	ActorID            string     `dynamodbav:"actor_id"`        // PK
	IdempotencyKey     string     `dynamodbav:"idempotency_key"` // SK
	Status             string     `dynamodbav:"status"`
	ResponseStatusCode int        `dynamodbav:"response_status_code,omitempty"`
	ResponseHeaders    []byte     `dynamodbav:"response_headers,omitempty"`
	ResponseBody       []byte     `dynamodbav:"response_body,omitempty"`
	CreatedAt          time.Time  `dynamodbav:"created_at"`
	CompletedAt        *time.Time `dynamodbav:"completed_at,omitempty"`
}

func (r dynamoRecord) toRecord() (Record, error) {
	rec := Record{
		ActorID:     r.ActorID,
		Key:         Key(r.IdempotencyKey),
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Status != StatusCompleted {
		return rec, nil
	}
	headers, err := decodeHeaders(r.ResponseHeaders)
	if err != nil {
		return Record{}, err
	}
	rec.Response = &Response{
		StatusCode: r.ResponseStatusCode,
		Headers:    headers,
		Body:       r.ResponseBody,
	}
	return rec, nil
}

func (s *DynamoStore) itemKey(actorID string, key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"actor_id":        &types.AttributeValueMemberS{Value: actorID},
		"idempotency_key": &types.AttributeValueMemberS{Value: string(key)},
	}
}

// Claim creates a claimed record only when attribute_not_exists(idempotency_key).
func (s *DynamoStore) Claim(ctx context.Context, actorID string, key Key) (ClaimResult, error) {
	rec := dynamoRecord{
		ActorID:        actorID,
		IdempotencyKey: string(key),
		Status:         StatusClaimed,
		CreatedAt:      s.nowFunc().UTC(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           sdkaws.String(s.tableName),
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return AlreadyClaimed, nil
		}
		return 0, fmt.Errorf("put item: %w", err)
	}

	return Acquired, nil
}

// Lookup reads the record with a strongly consistent read so a completion
// written by a concurrent request is visible immediately.
func (s *DynamoStore) Lookup(ctx context.Context, actorID string, key Key) (*Response, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      sdkaws.String(s.tableName),
		Key:            s.itemKey(actorID, key),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var raw dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	rec, err := raw.toRecord()
	if err != nil {
		return nil, err
	}
	return rec.Response, nil
}

// Complete moves claimed -> completed and stores the response. The update is
// conditional on the claimed status so a second completion cannot overwrite
// the first.
func (s *DynamoStore) Complete(ctx context.Context, actorID string, key Key, resp Response) error {
	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	completedAt := s.nowFunc().UTC()

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        sdkaws.String(s.tableName),
		Key:              s.itemKey(actorID, key),
		UpdateExpression: sdkaws.String("SET #s = :completed, response_status_code = :code, response_headers = :headers, response_body = :body, completed_at = :ca"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: StatusCompleted},
			":claimed":   &types.AttributeValueMemberS{Value: StatusClaimed},
			":code":      &types.AttributeValueMemberN{Value: strconv.Itoa(resp.StatusCode)},
			":headers":   &types.AttributeValueMemberB{Value: headers},
			":body":      &types.AttributeValueMemberB{Value: body},
			":ca":        &types.AttributeValueMemberS{Value: completedAt.Format(time.RFC3339Nano)},
		},
		ConditionExpression: sdkaws.String("#s = :claimed"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotClaimed
		}
		return fmt.Errorf("update item (complete): %w", err)
	}
	return nil
}

// ListClaimed scans for claimed records created before the cutoff.
func (s *DynamoStore) ListClaimed(ctx context.Context, createdBefore time.Time) ([]Record, error) {
	paginator := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:                sdkaws.String(s.tableName),
		FilterExpression:         sdkaws.String("#s = :claimed"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":claimed": &types.AttributeValueMemberS{Value: StatusClaimed},
		},
	})

	var records []Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan claimed records: %w", err)
		}
		var raws []dynamoRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &raws); err != nil {
			return nil, fmt.Errorf("unmarshal claimed records: %w", err)
		}
		for _, raw := range raws {
			if !raw.CreatedAt.Before(createdBefore) {
				continue
			}
			rec, err := raw.toRecord()
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
