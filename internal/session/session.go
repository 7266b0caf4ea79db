// Package session keeps logged-in admins. The id lives in an HttpOnly
// cookie; the data lives in Redis or, without Redis, in process memory.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/akamensky/base58"
)

// Session is what a login stores.
type Session struct {
	UserID    string    `msgpack:"uid"`
	Username  string    `msgpack:"u"`
	CreatedAt time.Time `msgpack:"c"`
}

// Store persists sessions for a fixed TTL.
type Store interface {
	// Create saves s under a new random id and returns the id.
	Create(ctx context.Context, s Session) (string, error)
	// Get returns nil when id is unknown or expired.
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

const idBytes = 32

// NewID returns 32 random bytes in base58.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base58.Encode(b), nil
}
