package subscriptions

import (
	"context"
	"errors"
)

// ErrDuplicateEmail is returned when a commit loses the race to insert a
// subscriber for the same email. The coordinator retries on it.
var ErrDuplicateEmail = errors.New("a subscriber with this email already exists")

// Repository stores subscribers and their confirmation tokens.
type Repository interface {
	// Begin opens a unit of work. Nothing written through it is visible
	// until Commit succeeds.
	Begin(ctx context.Context) (UnitOfWork, error)
	// LookupToken returns the token's owner, or nil when the token is unknown.
	LookupToken(ctx context.Context, token Token) (*TokenOwner, error)
	// Confirm marks the owner confirmed. It reports whether the status
	// changed; confirming a confirmed subscriber is a no-op.
	Confirm(ctx context.Context, owner TokenOwner) (bool, error)
	// ForEachConfirmed calls fn with the stored email of each confirmed
	// subscriber. The stored value is not re-validated. It stops at the
	// first error fn returns and returns it.
	ForEachConfirmed(ctx context.Context, fn func(storedEmail string) error) error
}

// UnitOfWork is an all-or-nothing group of subscription writes.
type UnitOfWork interface {
	TokenForEmail(ctx context.Context, email SubscriberEmail) (Token, bool, error)
	InsertSubscriber(ctx context.Context, sub Subscriber) error
	StoreToken(ctx context.Context, subscriberID string, token Token) error
	// Commit returns ErrDuplicateEmail when the email was taken concurrently.
	Commit(ctx context.Context) error
	// Rollback discards the writes. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}
