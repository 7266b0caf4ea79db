// Package email sends transactional and newsletter email. A Message is
// either delivered straight to a Postmark-style HTTP API or enqueued on SQS
// for the worker to deliver.
package email

import (
	"context"
	"fmt"
)

// Message is one email to one recipient.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Sender hands a message to the transport. A nil error means the transport
// accepted the message; there is no delivery receipt beyond that.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type noRetriesKey struct{}

// WithoutRetries marks ctx so that senders make a single attempt. Callers
// that hold a lock across Send use it to keep the lock time bounded by
// their own deadline.
func WithoutRetries(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetriesKey{}, true)
}

// RetriesAllowed reports whether ctx permits transport retries.
func RetriesAllowed(ctx context.Context) bool {
	off, _ := ctx.Value(noRetriesKey{}).(bool)
	return !off
}

// TransportError is a non-2xx answer from the email API.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("email api responded %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *TransportError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
