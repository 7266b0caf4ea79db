package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/email"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
)

// Processor drains the email outbox queue into the HTTP email API.
type Processor struct {
	sender email.Sender
}

// NewProcessor creates a processor delivering through sender.
func NewProcessor(sender email.Sender) *Processor {
	return &Processor{sender: sender}
}

// Handle delivers each message of the batch and reports the ones that
// failed, so SQS redrives only those instead of the whole batch.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "failed to deliver queued email",
				"message_id", rec.MessageId,
				"receive_count", rec.Attributes["ApproximateReceiveCount"],
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	ctx = log.AppendCtx(ctx, slog.String("message_id", rec.MessageId))

	msg, err := email.DecodeQueued(rec.Body)
	if err != nil {
		return err
	}

	if err := p.sender.Send(ctx, msg); err != nil {
		return err
	}

	slog.InfoContext(ctx, "queued email delivered", "subject", msg.Subject)
	return nil
}
