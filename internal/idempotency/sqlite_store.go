package idempotency

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/sqlitepool"
)

// SQLiteStore keeps idempotency records in the idempotency table keyed by
// (actor_id, idempotency_key).
type SQLiteStore struct {
	pool    *sqlitepool.Pool
	nowFunc func() time.Time
}

// NewSQLiteStore returns a store on pool. The pool must have the newsletter
// schema applied.
func NewSQLiteStore(pool *sqlitepool.Pool) *SQLiteStore {
	return &SQLiteStore{
		pool:    pool,
		nowFunc: time.Now,
	}
}

// Claim relies on the primary key: the insert is skipped when the pair
// exists, and only the connection that inserted sees one changed row.
func (s *SQLiteStore) Claim(ctx context.Context, actorID string, key Key) (ClaimResult, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO idempotency (actor_id, idempotency_key, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		&sqlitex.ExecOptions{
			Args: []any{actorID, string(key), StatusClaimed, s.nowFunc().UTC().Format(time.RFC3339Nano)},
		})
	if err != nil {
		return 0, fmt.Errorf("insert claim: %w", err)
	}

	if conn.Changes() == 1 {
		return Acquired, nil
	}
	return AlreadyClaimed, nil
}

// Lookup returns the completed response for the pair, if any.
func (s *SQLiteStore) Lookup(ctx context.Context, actorID string, key Key) (*Response, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var resp *Response
	var decodeErr error
	err = sqlitex.Execute(conn, `
		SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE actor_id = ? AND idempotency_key = ? AND status = ?`,
		&sqlitex.ExecOptions{
			Args: []any{actorID, string(key), StatusCompleted},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				headers, err := decodeHeaders(columnBlob(stmt, 1))
				if err != nil {
					decodeErr = err
					return nil
				}
				resp = &Response{
					StatusCode: stmt.ColumnInt(0),
					Headers:    headers,
					Body:       columnBlob(stmt, 2),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("select idempotency record: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return resp, nil
}

// Complete stores the response only while the record is still claimed.
func (s *SQLiteStore) Complete(ctx context.Context, actorID string, key Key, resp Response) error {
	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE idempotency
		SET status = ?, response_status_code = ?, response_headers = ?, response_body = ?, completed_at = ?
		WHERE actor_id = ? AND idempotency_key = ? AND status = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				StatusCompleted, resp.StatusCode, headers, body,
				s.nowFunc().UTC().Format(time.RFC3339Nano),
				actorID, string(key), StatusClaimed,
			},
		})
	if err != nil {
		return fmt.Errorf("update idempotency record: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ListClaimed returns claimed records created before the cutoff, oldest first.
func (s *SQLiteStore) ListClaimed(ctx context.Context, createdBefore time.Time) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []Record
	var parseErr error
	err = sqlitex.Execute(conn, `
		SELECT actor_id, idempotency_key, created_at
		FROM idempotency
		WHERE status = ?
		ORDER BY created_at`,
		&sqlitex.ExecOptions{
			Args: []any{StatusClaimed},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				createdAt, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(2))
				if err != nil {
					parseErr = fmt.Errorf("parse created_at: %w", err)
					return nil
				}
				if !createdAt.Before(createdBefore) {
					return nil
				}
				records = append(records, Record{
					ActorID:   stmt.ColumnText(0),
					Key:       Key(stmt.ColumnText(1)),
					Status:    StatusClaimed,
					CreatedAt: createdAt,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("select claimed records: %w", err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return records, nil
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	n := stmt.ColumnLen(col)
	buf := make([]byte, n)
	stmt.ColumnBytes(col, buf)
	return buf
}
