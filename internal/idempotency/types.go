package idempotency

import (
	"errors"
	"time"
)

// Status values for idempotency records. A record is created Claimed and
// moves to Completed exactly once.
const (
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
)

// ClaimResult reports the outcome of Claim.
type ClaimResult int

const (
	// Acquired means the caller inserted the placeholder and owns the action.
	Acquired ClaimResult = iota + 1
	// AlreadyClaimed means another request inserted the placeholder first.
	AlreadyClaimed
)

func (r ClaimResult) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return "unknown"
	}
}

// ErrNotClaimed is returned by Complete when no Claimed record exists for the
// pair, either because it was never claimed or because it already completed.
var ErrNotClaimed = errors.New("idempotency record is not in the claimed state")

// Header is one response header line. Order is preserved on replay.
type Header struct {
	Name  string `msgpack:"n"`
	Value string `msgpack:"v"`
}

// Response is the captured outcome of an action, replayed byte for byte.
type Response struct {
	StatusCode int
	Headers    []Header
	Body       []byte
}

// Record is a stored idempotency entry.
type Record struct {
	ActorID     string
	Key         Key
	Status      string
	Response    *Response
	CreatedAt   time.Time
	CompletedAt *time.Time
}
