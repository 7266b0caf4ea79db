// Package subscriptions registers subscribers and confirms them.
//
// Subscribe runs one unit of work per attempt: reuse the email's existing
// token or create the subscriber and a fresh token, send the confirmation
// email, and commit only once the transport accepted it. A failed send
// rolls everything back, so a pending subscriber never exists without an
// accepted confirmation email.
package subscriptions

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/email"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/events"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
)

const tracerName = "github.com/imrishuroy/go-idempotent-newsletter/internal/subscriptions"

// DefaultMaxAttempts bounds retries after losing the insert race.
const DefaultMaxAttempts = 3

// DefaultSendTimeout bounds the confirmation send inside a unit of work.
// It must stay below the store's lock wait (sqlitepool busy timeout), since
// the SQLite unit of work holds the write lock for the whole send.
const DefaultSendTimeout = 3 * time.Second

// Coordinator runs the subscribe and confirm workflows.
type Coordinator struct {
	repo        Repository
	sender      email.Sender
	events      events.Publisher
	baseURL     string
	maxAttempts int
	sendTimeout time.Duration

	newID    func() string
	newToken func() (Token, error)
	nowFunc  func() time.Time
	tracer   trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSendTimeout overrides DefaultSendTimeout.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

// NewCoordinator returns a Coordinator. baseURL prefixes confirmation links.
func NewCoordinator(repo Repository, sender email.Sender, publisher events.Publisher, baseURL string, opts ...Option) *Coordinator {
	if publisher == nil {
		publisher = events.Noop{}
	}
	c := &Coordinator{
		repo:        repo,
		sender:      sender,
		events:      publisher,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxAttempts: DefaultMaxAttempts,
		sendTimeout: DefaultSendTimeout,
		newID:       uuid.NewString,
		newToken:    NewToken,
		nowFunc:     time.Now,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe validates the input, then registers the subscriber (or reuses
// the pending registration) and sends the confirmation email.
func (c *Coordinator) Subscribe(ctx context.Context, rawEmail, rawName string) (err error) {
	ctx, span := c.tracer.Start(ctx, "subscriptions.Subscribe")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	subscriberEmail, err := ParseSubscriberEmail(rawEmail)
	if err != nil {
		return err
	}
	name, err := ParseSubscriberName(rawName)
	if err != nil {
		return err
	}
	sub := NewSubscriber{Email: subscriberEmail, Name: name}

	ctx = log.AppendCtx(ctx, slog.String("subscriber_email", sub.Email.String()))

	for attempt := 1; ; attempt++ {
		err = c.attempt(ctx, sub)
		if !stderrors.Is(err, ErrDuplicateEmail) {
			return err
		}
		if attempt >= c.maxAttempts {
			return errors.NewUnexpected("subscriber email kept colliding with concurrent registrations", err)
		}
		slog.InfoContext(ctx, "lost the race to register this email, retrying with the stored token",
			"attempt", attempt,
		)
	}
}

func (c *Coordinator) attempt(ctx context.Context, sub NewSubscriber) (err error) {
	uow, err := c.repo.Begin(ctx)
	if err != nil {
		return errors.NewUnexpected("failed to begin subscription unit of work", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := uow.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			slog.ErrorContext(ctx, "failed to roll back subscription unit of work",
				"error", rbErr,
				log.PriorityCritical(),
			)
		}
	}()

	token, found, err := uow.TokenForEmail(ctx, sub.Email)
	if err != nil {
		return errors.NewUnexpected("failed to look up subscription token", err)
	}

	if found {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("subscription.token_reused", true))
	} else {
		subscriberID := c.newID()
		err = uow.InsertSubscriber(ctx, Subscriber{
			ID:           subscriberID,
			Email:        sub.Email.String(),
			Name:         sub.Name.String(),
			Status:       StatusPendingConfirmation,
			SubscribedAt: c.nowFunc().UTC(),
		})
		if err != nil {
			return wrapStoreError("failed to insert subscriber", err)
		}

		token, err = c.newToken()
		if err != nil {
			return errors.NewUnexpected("failed to generate subscription token", err)
		}
		if err = uow.StoreToken(ctx, subscriberID, token); err != nil {
			return wrapStoreError("failed to store subscription token", err)
		}
	}

	// single attempt under a deadline: the unit of work may hold the store's
	// write lock until Commit or Rollback
	sendCtx, cancel := context.WithTimeout(email.WithoutRetries(ctx), c.sendTimeout)
	err = c.sender.Send(sendCtx, ConfirmationEmail(sub.Email, c.confirmationLink(token)))
	cancel()
	if err != nil {
		slog.ErrorContext(ctx, "confirmation email was not accepted, rolling back", "error", err)
		return errors.NewServiceUnavailable("failed to send confirmation email", err)
	}

	if err = uow.Commit(ctx); err != nil {
		if stderrors.Is(err, ErrDuplicateEmail) {
			return err
		}
		slog.ErrorContext(ctx, "failed to commit subscription after the confirmation email was accepted",
			"error", err,
			log.PriorityCritical(),
		)
		return errors.NewUnexpected("failed to commit subscription", err)
	}

	return nil
}

func wrapStoreError(message string, err error) error {
	if stderrors.Is(err, ErrDuplicateEmail) {
		return err
	}
	return errors.NewUnexpected(message, err)
}

func (c *Coordinator) confirmationLink(token Token) string {
	return fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s", c.baseURL, token)
}

// ConfirmationEmail builds the welcome message carrying link.
func ConfirmationEmail(to SubscriberEmail, link string) email.Message {
	return email.Message{
		To:      to.String(),
		Subject: "Welcome!",
		HTML: fmt.Sprintf(
			"Welcome to our newsletter!<br />Click <a href=\"%s\">here</a> to confirm your subscription.",
			link,
		),
		Text: fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link),
	}
}

// Confirm exchanges a token for a confirmed subscription. A malformed token
// is a Validation error, an unknown one Unauthorized. Confirming twice
// succeeds both times.
func (c *Coordinator) Confirm(ctx context.Context, rawToken string) (err error) {
	ctx, span := c.tracer.Start(ctx, "subscriptions.Confirm")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	token, err := ParseToken(rawToken)
	if err != nil {
		return err
	}

	owner, err := c.repo.LookupToken(ctx, token)
	if err != nil {
		return errors.NewUnexpected("failed to look up subscription token", err)
	}
	if owner == nil {
		return errors.NewUnauthorized("unknown subscription token")
	}

	changed, err := c.repo.Confirm(ctx, *owner)
	if err != nil {
		return errors.NewUnexpected("failed to confirm subscriber", err)
	}
	if !changed {
		slog.DebugContext(ctx, "subscriber already confirmed", "subscriber_id", owner.SubscriberID)
		return nil
	}

	evt := events.SubscriberConfirmed{SubscriberID: owner.SubscriberID, ConfirmedAt: c.nowFunc().UTC()}
	if pubErr := c.events.Publish(ctx, events.SubjectSubscriberConfirmed, evt); pubErr != nil {
		slog.WarnContext(ctx, "failed to publish subscriber confirmed event", "error", pubErr)
	}
	return nil
}
