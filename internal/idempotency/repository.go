package idempotency

import (
	"context"
	"time"
)

// Repository persists idempotency records. Implementations must make Claim
// atomic: of any number of concurrent callers for the same pair, exactly one
// observes Acquired.
type Repository interface {
	// Lookup returns the completed response, or nil when the record is
	// absent or still claimed.
	Lookup(ctx context.Context, actorID string, key Key) (*Response, error)
	Claim(ctx context.Context, actorID string, key Key) (ClaimResult, error)
	// Complete stores resp and transitions Claimed to Completed. It returns
	// ErrNotClaimed when there is no claimed record to complete.
	Complete(ctx context.Context, actorID string, key Key, resp Response) error
	// ListClaimed returns records still claimed that were created before
	// the cutoff. Operators use it to find stuck claims.
	ListClaimed(ctx context.Context, createdBefore time.Time) ([]Record, error)
}
