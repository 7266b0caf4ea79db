package users

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
)

// Service authenticates admins and manages their passwords.
type Service struct {
	repo   Repository
	params HashParams

	dummyOnce sync.Once
	dummyHash string
}

// NewService returns a Service hashing with DefaultHashParams.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, params: DefaultHashParams}
}

// dummy is verified against for unknown usernames so both paths cost one
// argon2 evaluation.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := HashPassword("not-a-real-password", s.params)
		if err != nil {
			slog.Error("failed to compute dummy password hash", "error", err)
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// Authenticate returns the user when password matches, Unauthorized otherwise.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := s.repo.Get(ctx, username)
	switch {
	case stderrors.Is(err, ErrNotFound):
		_, _ = VerifyPassword(s.dummy(), password)
		return User{}, errors.NewUnauthorized("invalid username or password")
	case err != nil:
		return User{}, errors.NewUnexpected("failed to load user", err)
	}

	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		slog.ErrorContext(ctx, "stored password hash is unreadable",
			"username", username,
			"error", err,
			log.PriorityCritical(),
		)
		return User{}, errors.NewUnexpected("failed to verify password", err)
	}
	if !ok {
		return User{}, errors.NewUnauthorized("invalid username or password")
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
// Length rules are enforced by the request validator.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	if _, err := s.Authenticate(ctx, username, current); err != nil {
		var unauthorized errors.Unauthorized
		if stderrors.As(err, &unauthorized) {
			return errors.NewUnauthorized("the current password is incorrect")
		}
		return err
	}

	hash, err := HashPassword(next, s.params)
	if err != nil {
		return errors.NewUnexpected("failed to hash password", err)
	}
	if err := s.repo.UpdatePasswordHash(ctx, username, hash); err != nil {
		return errors.NewUnexpected("failed to update password", err)
	}
	slog.InfoContext(ctx, "password changed", "username", username)
	return nil
}

// EnsureAdmin creates username with password unless it already exists. An
// existing user keeps its password.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := s.repo.Get(ctx, username)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, ErrNotFound) {
		return errors.NewUnexpected("failed to load admin user", err)
	}

	hash, err := HashPassword(password, s.params)
	if err != nil {
		return errors.NewUnexpected("failed to hash admin password", err)
	}
	err = s.repo.Create(ctx, User{ID: uuid.NewString(), Username: username, PasswordHash: hash})
	if err != nil && !stderrors.Is(err, ErrDuplicateUsername) {
		return errors.NewUnexpected("failed to create admin user", err)
	}
	slog.InfoContext(ctx, "admin user bootstrapped", "username", username)
	return nil
}

// CreateAdmin adds a new user. It fails with Conflict when username exists.
func (s *Service) CreateAdmin(ctx context.Context, username, password string) (User, error) {
	hash, err := HashPassword(password, s.params)
	if err != nil {
		return User{}, errors.NewUnexpected("failed to hash password", err)
	}

	user := User{ID: uuid.NewString(), Username: username, PasswordHash: hash}
	if err := s.repo.Create(ctx, user); err != nil {
		if stderrors.Is(err, ErrDuplicateUsername) {
			return User{}, errors.NewConflict("user " + username + " already exists")
		}
		return User{}, errors.NewUnexpected("failed to create user", err)
	}
	return user, nil
}

// ResetPassword sets a new password without checking the current one.
func (s *Service) ResetPassword(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password, s.params)
	if err != nil {
		return errors.NewUnexpected("failed to hash password", err)
	}
	if err := s.repo.UpdatePasswordHash(ctx, username, hash); err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return errors.NewValidation("no user named " + username)
		}
		return errors.NewUnexpected("failed to update password", err)
	}
	return nil
}
