package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/sqlitepool"
)

// SQLiteRepository stores subscribers in the subscriptions and
// subscription_tokens tables.
type SQLiteRepository struct {
	pool *sqlitepool.Pool
}

// NewSQLiteRepository returns a repository on pool.
func NewSQLiteRepository(pool *sqlitepool.Pool) *SQLiteRepository {
	return &SQLiteRepository{pool: pool}
}

// Begin takes a connection and opens an IMMEDIATE transaction on it. The
// write lock is held until Commit or Rollback, so concurrent attempts for
// the same email queue behind each other instead of both inserting.
func (r *SQLiteRepository) Begin(ctx context.Context) (UnitOfWork, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		r.pool.Put(conn)
		return nil, fmt.Errorf("begin immediate transaction: %w", err)
	}

	return &sqliteUnitOfWork{pool: r.pool, conn: conn, endFn: endFn}, nil
}

func (r *SQLiteRepository) LookupToken(ctx context.Context, token Token) (*TokenOwner, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	var owner *TokenOwner
	err = sqlitex.Execute(conn, `
		SELECT t.subscriber_id, s.email
		FROM subscription_tokens t
		JOIN subscriptions s ON s.id = t.subscriber_id
		WHERE t.subscription_token = ?`,
		&sqlitex.ExecOptions{
			Args: []any{token.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				owner = &TokenOwner{
					SubscriberID: stmt.ColumnText(0),
					Email:        stmt.ColumnText(1),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("select subscription token: %w", err)
	}
	return owner, nil
}

func (r *SQLiteRepository) Confirm(ctx context.Context, owner TokenOwner) (bool, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE subscriptions SET status = ? WHERE id = ? AND status <> ?`,
		&sqlitex.ExecOptions{
			Args: []any{StatusConfirmed, owner.SubscriberID, StatusConfirmed},
		})
	if err != nil {
		return false, fmt.Errorf("confirm subscriber: %w", err)
	}
	return conn.Changes() > 0, nil
}

// ForEachConfirmed reads the whole confirmed set before calling fn, so no
// connection is held while emails are sent.
func (r *SQLiteRepository) ForEachConfirmed(ctx context.Context, fn func(storedEmail string) error) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}

	var emails []string
	err = sqlitex.Execute(conn,
		`SELECT email FROM subscriptions WHERE status = ? ORDER BY subscribed_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{StatusConfirmed},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				emails = append(emails, stmt.ColumnText(0))
				return nil
			},
		})
	r.pool.Put(conn)
	if err != nil {
		return fmt.Errorf("select confirmed subscribers: %w", err)
	}

	for _, e := range emails {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

type sqliteUnitOfWork struct {
	pool  *sqlitepool.Pool
	conn  *sqlite.Conn
	endFn func(*error)
	done  bool
}

func (u *sqliteUnitOfWork) TokenForEmail(ctx context.Context, email SubscriberEmail) (Token, bool, error) {
	var token Token
	found := false
	err := sqlitex.Execute(u.conn, `
		SELECT t.subscription_token
		FROM subscription_tokens t
		JOIN subscriptions s ON s.id = t.subscriber_id
		WHERE s.email = ?
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{email.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				token = Token(stmt.ColumnText(0))
				found = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("select token for email: %w", err)
	}
	return token, found, nil
}

func (u *sqliteUnitOfWork) InsertSubscriber(ctx context.Context, sub Subscriber) error {
	err := sqlitex.Execute(u.conn, `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{sub.ID, sub.Email, sub.Name, sub.SubscribedAt.Format(time.RFC3339Nano), sub.Status},
		})
	if err != nil {
		if sqlitepool.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

func (u *sqliteUnitOfWork) StoreToken(ctx context.Context, subscriberID string, token Token) error {
	err := sqlitex.Execute(u.conn,
		`INSERT INTO subscription_tokens (subscription_token, subscriber_id) VALUES (?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{token.String(), subscriberID},
		})
	if err != nil {
		return fmt.Errorf("insert subscription token: %w", err)
	}
	return nil
}

func (u *sqliteUnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return errors.New("unit of work already finished")
	}
	u.done = true

	var err error
	u.endFn(&err)
	u.pool.Put(u.conn)
	if err != nil {
		if sqlitepool.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var errRolledBack = errors.New("subscription unit of work rolled back")

func (u *sqliteUnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true

	// a non-nil error makes endFn roll back
	err := errRolledBack
	u.endFn(&err)
	u.pool.Put(u.conn)
	return nil
}
