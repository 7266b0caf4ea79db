package idempotency

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/utils"
)

const tracerName = "github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"

// Action produces the response to cache. It runs at most once per
// (actor, key).
type Action func(ctx context.Context) (Response, error)

// Deduplicator runs an action behind an idempotency key.
type Deduplicator struct {
	repo   Repository
	poll   utils.RetryConfig
	tracer trace.Tracer
}

// DefaultPollConfig is how long a duplicate waits for the in-flight
// original: five lookups, 25ms doubling to at most 400ms.
var DefaultPollConfig = utils.NewRetryConfig(5, 25*time.Millisecond, 400*time.Millisecond)

// NewDeduplicator returns a Deduplicator on repo.
func NewDeduplicator(repo Repository, poll utils.RetryConfig) *Deduplicator {
	return &Deduplicator{
		repo:   repo,
		poll:   poll,
		tracer: otel.Tracer(tracerName),
	}
}

var errStillClaimed = stderrors.New("idempotency record still claimed")

// Run returns the cached response for (actorID, key) when one exists.
// Otherwise it claims the pair, runs action, and stores its response.
// replayed reports whether the response came from the store.
//
// A request that loses the claim polls for the winner's response and gives
// up with a Conflict error. The action runs on a context detached from ctx's
// cancellation: once claimed, the outcome belongs to the store, not to the
// request.
func (d *Deduplicator) Run(ctx context.Context, actorID string, key Key, action Action) (resp Response, replayed bool, err error) {
	ctx, span := d.tracer.Start(ctx, "idempotency.Run", trace.WithAttributes(
		attribute.String("idempotency.actor_id", actorID),
		attribute.String("idempotency.key", string(key)),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("idempotency.replayed", replayed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx = log.AppendCtx(ctx, slog.String("idempotency_key", string(key)))

	cached, err := d.repo.Lookup(ctx, actorID, key)
	if err != nil {
		return Response{}, false, errors.NewUnexpected("failed to look up idempotency record", err)
	}
	if cached != nil {
		slog.DebugContext(ctx, "replaying saved response")
		return *cached, true, nil
	}

	claim, err := d.repo.Claim(ctx, actorID, key)
	if err != nil {
		return Response{}, false, errors.NewUnexpected("failed to claim idempotency key", err)
	}

	if claim == AlreadyClaimed {
		slog.InfoContext(ctx, "idempotency key claimed by another request, waiting for its response")
		cached, err := d.awaitCompletion(ctx, actorID, key)
		if err != nil {
			return Response{}, false, err
		}
		return *cached, true, nil
	}

	resp, err = action(context.WithoutCancel(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "action failed after claiming idempotency key, the claim stays unresolved",
			"error", err,
			log.PriorityCritical(),
		)
		return Response{}, false, err
	}

	if err := d.repo.Complete(context.WithoutCancel(ctx), actorID, key, resp); err != nil {
		slog.ErrorContext(ctx, "failed to save response for idempotency key, the claim stays unresolved",
			"error", err,
			log.PriorityCritical(),
		)
		return Response{}, false, errors.NewUnexpected("failed to save idempotent response", err)
	}

	return resp, false, nil
}

func (d *Deduplicator) awaitCompletion(ctx context.Context, actorID string, key Key) (*Response, error) {
	if d.poll.MaxAttempts <= 0 {
		return nil, errors.NewConflict("a request with this idempotency key is still in progress")
	}

	var cached *Response
	err := utils.RetryWithExponentialBackoff(ctx, d.poll,
		func(err error) bool { return stderrors.Is(err, errStillClaimed) },
		func() error {
			resp, err := d.repo.Lookup(ctx, actorID, key)
			if err != nil {
				return err
			}
			if resp == nil {
				return errStillClaimed
			}
			cached = resp
			return nil
		})

	switch {
	case err == nil:
		return cached, nil
	case stderrors.Is(err, errStillClaimed):
		return nil, errors.NewConflict("a request with this idempotency key is still in progress")
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("waiting for idempotent response: %w", err)
	default:
		return nil, errors.NewUnexpected("failed to look up idempotency record", err)
	}
}
