package idempotency

import (
	"strings"
	"unicode/utf8"

	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
)

// MaxKeyLength bounds idempotency keys, in characters.
const MaxKeyLength = 50

// Key is a validated idempotency key. Construct it with ParseKey.
type Key string

// ParseKey validates a caller-supplied key. It never touches storage.
func ParseKey(s string) (Key, error) {
	if strings.TrimSpace(s) == "" {
		return "", errors.NewValidation("the idempotency key cannot be empty")
	}
	if utf8.RuneCountInString(s) > MaxKeyLength {
		return "", errors.NewValidation("the idempotency key must be at most 50 characters long")
	}
	return Key(s), nil
}

func (k Key) String() string { return string(k) }
