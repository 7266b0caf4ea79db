package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// QueuePublisher enqueues a message body with string attributes.
// *aws.Publisher implements it.
type QueuePublisher interface {
	Publish(ctx context.Context, messageBody string, attributes map[string]string) (string, error)
}

// QueueSender treats SQS acceptance as transport acceptance. The worker
// drains the queue through an HTTPClient.
type QueueSender struct {
	publisher QueuePublisher
}

// NewQueueSender returns a Sender backed by publisher.
func NewQueueSender(publisher QueuePublisher) *QueueSender {
	return &QueueSender{publisher: publisher}
}

func (q *QueueSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queued email: %w", err)
	}

	id, err := q.publisher.Publish(ctx, string(body), map[string]string{
		"subject": msg.Subject,
	})
	if err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}

	slog.DebugContext(ctx, "email enqueued", "message_id", id)
	return nil
}

// DecodeQueued parses a message produced by QueueSender.
func DecodeQueued(body string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("invalid queued email: %w", err)
	}
	if msg.To == "" {
		return Message{}, errors.New("invalid queued email: missing recipient")
	}
	return msg, nil
}
