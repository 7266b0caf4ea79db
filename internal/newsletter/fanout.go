// Package newsletter delivers issues to the confirmed audience.
package newsletter

import (
	"context"
	stderrors "errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/email"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/subscriptions"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
)

const tracerName = "github.com/imrishuroy/go-idempotent-newsletter/internal/newsletter"

// Audience yields the stored email of every confirmed subscriber.
type Audience interface {
	ForEachConfirmed(ctx context.Context, fn func(storedEmail string) error) error
}

// Issue is the content of one newsletter edition.
type Issue struct {
	Title string
	HTML  string
	Text  string
}

// Result counts what a delivery did.
type Result struct {
	Delivered int
	Skipped   int
}

// Fanout sends an issue to each confirmed subscriber.
type Fanout struct {
	audience Audience
	sender   email.Sender
	tracer   trace.Tracer
}

// NewFanout returns a Fanout reading recipients from audience.
func NewFanout(audience Audience, sender email.Sender) *Fanout {
	return &Fanout{
		audience: audience,
		sender:   sender,
		tracer:   otel.Tracer(tracerName),
	}
}

// Deliver sends issue to every confirmed subscriber. Stored addresses that
// no longer parse are skipped with a warning. The first transport failure
// stops the delivery and is returned as ServiceUnavailable; recipients
// already sent to are not retried or rolled back.
func (f *Fanout) Deliver(ctx context.Context, issue Issue) (res Result, err error) {
	ctx, span := f.tracer.Start(ctx, "newsletter.Deliver")
	defer func() {
		span.SetAttributes(
			attribute.Int("newsletter.delivered", res.Delivered),
			attribute.Int("newsletter.skipped", res.Skipped),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	err = f.audience.ForEachConfirmed(ctx, func(stored string) error {
		to, parseErr := subscriptions.ParseSubscriberEmail(stored)
		if parseErr != nil {
			slog.WarnContext(ctx, "skipping a confirmed subscriber, their stored contact details are invalid",
				"error", parseErr,
			)
			res.Skipped++
			return nil
		}

		sendErr := f.sender.Send(ctx, email.Message{
			To:      to.String(),
			Subject: issue.Title,
			HTML:    issue.HTML,
			Text:    issue.Text,
		})
		if sendErr != nil {
			return errors.NewServiceUnavailable("failed to send newsletter issue to "+to.String(), sendErr)
		}
		res.Delivered++
		return nil
	})
	if err != nil {
		var su errors.ServiceUnavailable
		if stderrors.As(err, &su) {
			return res, err
		}
		return res, errors.NewUnexpected("failed to get the list of confirmed subscribers", err)
	}

	return res, nil
}
