package users

import (
	"context"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/aws"
)

// DynamoRepository stores users in a table keyed by username.
type DynamoRepository struct {
	client aws.DynamoDBAPI
	table  string
}

func NewDynamoRepository(client aws.DynamoDBAPI, table string) *DynamoRepository {
	return &DynamoRepository{client: client, table: table}
}

type userItem struct {
	Username     string `dynamodbav:"username"` // PK
	UserID       string `dynamodbav:"user_id"`
	PasswordHash string `dynamodbav:"password_hash"`
}

func (r *DynamoRepository) key(username string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"username": &types.AttributeValueMemberS{Value: username},
	}
}

func (r *DynamoRepository) Get(ctx context.Context, username string) (User, error) {
	out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      sdkaws.String(r.table),
		Key:            r.key(username),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if len(out.Item) == 0 {
		return User{}, ErrNotFound
	}

	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return User{ID: item.UserID, Username: item.Username, PasswordHash: item.PasswordHash}, nil
}

func (r *DynamoRepository) Create(ctx context.Context, user User) error {
	item, err := attributevalue.MarshalMap(userItem{
		Username:     user.Username,
		UserID:       user.ID,
		PasswordHash: user.PasswordHash,
	})
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           sdkaws.String(r.table),
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(username)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (r *DynamoRepository) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	_, err := r.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           sdkaws.String(r.table),
		Key:                 r.key(username),
		UpdateExpression:    sdkaws.String("SET password_hash = :h"),
		ConditionExpression: sdkaws.String("attribute_exists(username)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: hash},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}
