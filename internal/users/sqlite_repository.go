package users

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/sqlitepool"
)

// SQLiteRepository stores users in the users table.
type SQLiteRepository struct {
	pool *sqlitepool.Pool
}

func NewSQLiteRepository(pool *sqlitepool.Pool) *SQLiteRepository {
	return &SQLiteRepository{pool: pool}
}

func (r *SQLiteRepository) Get(ctx context.Context, username string) (User, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return User{}, err
	}
	defer r.pool.Put(conn)

	var user *User
	err = sqlitex.Execute(conn,
		`SELECT user_id, username, password_hash FROM users WHERE username = ?`,
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user = &User{
					ID:           stmt.ColumnText(0),
					Username:     stmt.ColumnText(1),
					PasswordHash: stmt.ColumnText(2),
				}
				return nil
			},
		})
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	if user == nil {
		return User{}, ErrNotFound
	}
	return *user, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, user User) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO users (user_id, username, password_hash) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{user.ID, user.Username, user.PasswordHash},
		})
	if err != nil {
		if sqlitepool.IsUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE users SET password_hash = ? WHERE username = ?`,
		&sqlitex.ExecOptions{
			Args: []any{hash, username},
		})
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}
