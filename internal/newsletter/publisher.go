package newsletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/events"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"
)

// Metric names recorded after a fresh publish.
const (
	MetricDeliveries = "NewsletterDeliveries"
	MetricSkipped    = "NewsletterSkippedSubscribers"
)

// Metrics records counters. aws.MetricsRecorder implements it.
type Metrics interface {
	RecordCounts(ctx context.Context, counts map[string]int) error
}

type noopMetrics struct{}

func (noopMetrics) RecordCounts(context.Context, map[string]int) error { return nil }

// PublishedBody is the JSON body of a publish response.
type PublishedBody struct {
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
	Skipped   int    `json:"skipped"`
}

// Publisher publishes an issue at most once per (actor, idempotency key).
type Publisher struct {
	dedup   *idempotency.Deduplicator
	fanout  *Fanout
	metrics Metrics
	events  events.Publisher
	nowFunc func() time.Time
}

// NewPublisher wires the deduplicator around fanout. metrics and publisher
// may be nil.
func NewPublisher(dedup *idempotency.Deduplicator, fanout *Fanout, metrics Metrics, publisher events.Publisher) *Publisher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Publisher{
		dedup:   dedup,
		fanout:  fanout,
		metrics: metrics,
		events:  publisher,
		nowFunc: time.Now,
	}
}

// Publish delivers issue unless actorID already published with key, in which
// case the saved response is returned with replayed set.
func (p *Publisher) Publish(ctx context.Context, actorID string, key idempotency.Key, issue Issue) (idempotency.Response, bool, error) {
	var result Result
	resp, replayed, err := p.dedup.Run(ctx, actorID, key, func(ctx context.Context) (idempotency.Response, error) {
		res, err := p.fanout.Deliver(ctx, issue)
		if err != nil {
			return idempotency.Response{}, err
		}
		result = res
		return PublishedResponse(issue.Title, res)
	})
	if err != nil {
		return idempotency.Response{}, false, err
	}
	if replayed {
		return resp, true, nil
	}

	slog.InfoContext(ctx, "newsletter issue published",
		"delivered", result.Delivered,
		"skipped", result.Skipped,
	)

	err = p.metrics.RecordCounts(ctx, map[string]int{
		MetricDeliveries: result.Delivered,
		MetricSkipped:    result.Skipped,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record newsletter metrics", "error", err)
	}

	evt := events.IssuePublished{
		ActorID:     actorID,
		Title:       issue.Title,
		Delivered:   result.Delivered,
		Skipped:     result.Skipped,
		PublishedAt: p.nowFunc().UTC(),
	}
	if err := p.events.Publish(ctx, events.SubjectIssuePublished, evt); err != nil {
		slog.WarnContext(ctx, "failed to publish issue published event", "error", err)
	}

	return resp, false, nil
}

// PublishedResponse renders the response saved for a publish.
func PublishedResponse(title string, res Result) (idempotency.Response, error) {
	body, err := json.Marshal(PublishedBody{
		Message:   fmt.Sprintf("Newsletter %q has been published.", title),
		Delivered: res.Delivered,
		Skipped:   res.Skipped,
	})
	if err != nil {
		return idempotency.Response{}, fmt.Errorf("marshal publish response: %w", err)
	}
	return idempotency.Response{
		StatusCode: http.StatusOK,
		Headers: []idempotency.Header{
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
		Body: body,
	}, nil
}
