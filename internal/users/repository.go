// Package users holds the admin accounts that act as publishing actors.
package users

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no user has the requested username.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateUsername is returned by Create when the username is taken.
	ErrDuplicateUsername = errors.New("username already exists")
)

// User is an admin account. ID is the actor id that scopes idempotency keys.
type User struct {
	ID           string
	Username     string
	PasswordHash string
}

// Repository stores users.
type Repository interface {
	Get(ctx context.Context, username string) (User, error)
	Create(ctx context.Context, user User) error
	UpdatePasswordHash(ctx context.Context, username, hash string) error
}
