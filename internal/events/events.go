// Package events publishes newsletter domain events. Publishing is best
// effort: callers log failures and carry on.
package events

import (
	"context"
	"time"
)

// Subjects, relative to the configured prefix.
const (
	SubjectSubscriberConfirmed = "subscriber.confirmed"
	SubjectIssuePublished      = "issue.published"
)

// SubscriberConfirmed is emitted the first time a subscriber confirms.
type SubscriberConfirmed struct {
	SubscriberID string    `json:"subscriber_id"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// IssuePublished is emitted after a fresh (not replayed) publish.
type IssuePublished struct {
	ActorID     string    `json:"actor_id"`
	Title       string    `json:"title"`
	Delivered   int       `json:"delivered"`
	Skipped     int       `json:"skipped"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher sends an event payload to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
