package subscriptions

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/validation"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
)

// Subscriber statuses.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// TokenLength is the number of alphanumeric characters in a token.
const TokenLength = 25

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SubscriberEmail is a structurally valid email address.
type SubscriberEmail string

// ParseSubscriberEmail validates s.
func ParseSubscriberEmail(s string) (SubscriberEmail, error) {
	if !validation.IsValidEmail(s) {
		return "", errors.NewValidation(fmt.Sprintf("%q is not a valid subscriber email", s))
	}
	return SubscriberEmail(s), nil
}

func (e SubscriberEmail) String() string { return string(e) }

// SubscriberName is a non-blank display name of at most 256 graphemes.
type SubscriberName string

// ParseSubscriberName validates s.
func ParseSubscriberName(s string) (SubscriberName, error) {
	if !validation.IsValidSubscriberName(s) {
		return "", errors.NewValidation(fmt.Sprintf("%q is not a valid subscriber name", s))
	}
	return SubscriberName(s), nil
}

func (n SubscriberName) String() string { return string(n) }

// Token is a confirmation token.
type Token string

// NewToken draws TokenLength characters from crypto/rand.
func NewToken() (Token, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, TokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate subscription token: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return Token(buf), nil
}

// ParseToken rejects anything that NewToken could not have produced.
func ParseToken(s string) (Token, error) {
	if len(s) != TokenLength {
		return "", errors.NewValidation("malformed subscription token")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return "", errors.NewValidation("malformed subscription token")
		}
	}
	return Token(s), nil
}

func (t Token) String() string { return string(t) }

// NewSubscriber is validated subscribe input.
type NewSubscriber struct {
	Email SubscriberEmail
	Name  SubscriberName
}

// Subscriber is a stored subscriber.
type Subscriber struct {
	ID           string
	Email        string
	Name         string
	Status       string
	SubscribedAt time.Time
}

// TokenOwner identifies the subscriber a token belongs to.
type TokenOwner struct {
	SubscriberID string
	Email        string
}
