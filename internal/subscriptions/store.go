package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/aws"
)

// DynamoRepository stores subscribers in two tables: subscriptions, keyed
// by email so the key itself enforces one subscriber per address, and
// tokens, keyed by subscription_token.
type DynamoRepository struct {
	client             aws.DynamoDBAPI
	subscriptionsTable string
	tokensTable        string
	nowFunc            func() time.Time
}

// NewDynamoRepository creates a new subscriptions repository.
func NewDynamoRepository(client aws.DynamoDBAPI, subscriptionsTable, tokensTable string) *DynamoRepository {
	return &DynamoRepository{
		client:             client,
		subscriptionsTable: subscriptionsTable,
		tokensTable:        tokensTable,
		nowFunc:            time.Now,
	}
}

type subscriptionItem struct {
	Email             string     `dynamodbav:"email"` // PK
	SubscriberID      string     `dynamodbav:"subscriber_id"`
	Name              string     `dynamodbav:"name"`
	Status            string     `dynamodbav:"status"`
	SubscribedAt      time.Time  `dynamodbav:"subscribed_at"`
	SubscriptionToken string     `dynamodbav:"subscription_token,omitempty"`
	ConfirmedAt       *time.Time `dynamodbav:"confirmed_at,omitempty"`
}

type tokenItem struct {
	SubscriptionToken string `dynamodbav:"subscription_token"` // PK
	SubscriberID      string `dynamodbav:"subscriber_id"`
	Email             string `dynamodbav:"email"`
}

// Begin returns a unit of work that buffers writes and commits them with a
// single TransactWriteItems call.
func (r *DynamoRepository) Begin(ctx context.Context) (UnitOfWork, error) {
	return &dynamoUnitOfWork{repo: r}, nil
}

func (r *DynamoRepository) LookupToken(ctx context.Context, token Token) (*TokenOwner, error) {
	out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: sdkaws.String(r.tokensTable),
		Key: map[string]types.AttributeValue{
			"subscription_token": &types.AttributeValueMemberS{Value: token.String()},
		},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &TokenOwner{SubscriberID: item.SubscriberID, Email: item.Email}, nil
}

// Confirm sets the status to confirmed on the subscriber row that still
// belongs to owner and reports whether it was pending before.
func (r *DynamoRepository) Confirm(ctx context.Context, owner TokenOwner) (bool, error) {
	now := r.nowFunc().UTC()
	out, err := r.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: sdkaws.String(r.subscriptionsTable),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: owner.Email},
		},
		UpdateExpression:         sdkaws.String("SET #s = :confirmed, confirmed_at = if_not_exists(confirmed_at, :ca)"),
		ConditionExpression:      sdkaws.String("subscriber_id = :id"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":confirmed": &types.AttributeValueMemberS{Value: StatusConfirmed},
			":ca":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":id":        &types.AttributeValueMemberS{Value: owner.SubscriberID},
		},
		ReturnValues: types.ReturnValueUpdatedOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, fmt.Errorf("subscriber %s no longer owns %s", owner.SubscriberID, owner.Email)
		}
		return false, fmt.Errorf("update item: %w", err)
	}

	old, _ := out.Attributes["status"].(*types.AttributeValueMemberS)
	return old == nil || old.Value != StatusConfirmed, nil
}

func (r *DynamoRepository) ForEachConfirmed(ctx context.Context, fn func(storedEmail string) error) error {
	paginator := dyn.NewScanPaginator(r.client, &dyn.ScanInput{
		TableName:                sdkaws.String(r.subscriptionsTable),
		FilterExpression:         sdkaws.String("#s = :confirmed"),
		ProjectionExpression:     sdkaws.String("#e"),
		ExpressionAttributeNames: map[string]string{"#s": "status", "#e": "email"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":confirmed": &types.AttributeValueMemberS{Value: StatusConfirmed},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan confirmed subscribers: %w", err)
		}
		for _, item := range page.Items {
			e, _ := item["email"].(*types.AttributeValueMemberS)
			if e == nil {
				continue
			}
			if err := fn(e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

type dynamoUnitOfWork struct {
	repo       *DynamoRepository
	subscriber *subscriptionItem
	token      *tokenItem
	done       bool
}

func (u *dynamoUnitOfWork) TokenForEmail(ctx context.Context, email SubscriberEmail) (Token, bool, error) {
	out, err := u.repo.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: sdkaws.String(u.repo.subscriptionsTable),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email.String()},
		},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("get subscriber: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}

	var item subscriptionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", false, fmt.Errorf("unmarshal subscriber: %w", err)
	}
	if item.SubscriptionToken == "" {
		return "", false, nil
	}
	return Token(item.SubscriptionToken), true, nil
}

func (u *dynamoUnitOfWork) InsertSubscriber(ctx context.Context, sub Subscriber) error {
	if u.subscriber != nil {
		return fmt.Errorf("unit of work already holds subscriber %s", u.subscriber.SubscriberID)
	}
	u.subscriber = &subscriptionItem{
		Email:        sub.Email,
		SubscriberID: sub.ID,
		Name:         sub.Name,
		Status:       sub.Status,
		SubscribedAt: sub.SubscribedAt,
	}
	return nil
}

func (u *dynamoUnitOfWork) StoreToken(ctx context.Context, subscriberID string, token Token) error {
	if u.subscriber == nil || u.subscriber.SubscriberID != subscriberID {
		return fmt.Errorf("subscriber %s was not inserted in this unit of work", subscriberID)
	}
	u.subscriber.SubscriptionToken = token.String()
	u.token = &tokenItem{
		SubscriptionToken: token.String(),
		SubscriberID:      subscriberID,
		Email:             u.subscriber.Email,
	}
	return nil
}

// Commit writes the subscriber and token rows in one transaction. The
// subscriber put is guarded by attribute_not_exists(email); losing that
// condition means another request registered the email first.
func (u *dynamoUnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return errors.New("unit of work already finished")
	}
	u.done = true

	if u.subscriber == nil {
		return nil
	}
	if u.token == nil {
		return fmt.Errorf("subscriber %s has no token", u.subscriber.SubscriberID)
	}

	subscriberMap, err := attributevalue.MarshalMap(u.subscriber)
	if err != nil {
		return fmt.Errorf("marshal subscriber item: %w", err)
	}
	tokenMap, err := attributevalue.MarshalMap(u.token)
	if err != nil {
		return fmt.Errorf("marshal token item: %w", err)
	}

	_, err = u.repo.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           sdkaws.String(u.repo.subscriptionsTable),
					Item:                subscriberMap,
					ConditionExpression: sdkaws.String("attribute_not_exists(email)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           sdkaws.String(u.repo.tokensTable),
					Item:                tokenMap,
					ConditionExpression: sdkaws.String("attribute_not_exists(subscription_token)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && emailConditionFailed(tce) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func (u *dynamoUnitOfWork) Rollback(ctx context.Context) error {
	// nothing was written before Commit
	u.done = true
	return nil
}

// emailConditionFailed reports whether the subscriber put, the first item
// of the transaction, was the one cancelled by its condition.
func emailConditionFailed(tce *types.TransactionCanceledException) bool {
	if len(tce.CancellationReasons) == 0 {
		return false
	}
	return sdkaws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed"
}
