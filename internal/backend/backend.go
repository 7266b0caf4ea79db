// Package backend opens the storage selected by configuration and hands out
// the repositories built on it.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/aws"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/config"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/sqlitepool"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/subscriptions"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/users"
)

// Backend holds one repository per domain, all on the same store.
type Backend struct {
	Idempotency   idempotency.Repository
	Subscriptions subscriptions.Repository
	Users         users.Repository

	// AWS is nil unless the configuration needs an AWS service.
	AWS *aws.AWSClients

	pool *sqlitepool.Pool
}

// Open builds the repositories for cfg.Database.Driver.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	b := &Backend{}

	if cfg.UsesAWS() {
		clients, err := aws.NewAWSClients(ctx, aws.Options{
			Region:           cfg.AWS.Region,
			EndpointOverride: cfg.AWS.EndpointOverride,
		})
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		b.AWS = clients
	}

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		pool, err := sqlitepool.Open(sqlitepool.Config{
			Path:        cfg.Database.SQLitePath,
			PoolSize:    cfg.Database.SQLitePoolSize,
			BusyTimeout: cfg.Database.SQLiteBusyTimeout,
			Schema:      sqlitepool.Schema,
		})
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.Idempotency = idempotency.NewSQLiteStore(pool)
		b.Subscriptions = subscriptions.NewSQLiteRepository(pool)
		b.Users = users.NewSQLiteRepository(pool)

	case config.DriverDynamoDB:
		db := b.AWS.DynamoDB
		b.Idempotency = idempotency.NewDynamoStore(db, cfg.Database.IdempotencyTable)
		b.Subscriptions = subscriptions.NewDynamoRepository(db, cfg.Database.SubscriptionsTable, cfg.Database.TokensTable)
		b.Users = users.NewDynamoRepository(db, cfg.Database.UsersTable)

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	slog.InfoContext(ctx, "storage backend ready", "driver", cfg.Database.Driver)
	return b, nil
}

// Close releases the SQLite pool, if any.
func (b *Backend) Close() error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Close()
}
