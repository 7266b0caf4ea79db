package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/config"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/subscriptions"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/users"
)

func TestOpenSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "newsletter.db")

	b, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	assert.Nil(t, b.AWS)
	assert.IsType(t, &idempotency.SQLiteStore{}, b.Idempotency)
	assert.IsType(t, &subscriptions.SQLiteRepository{}, b.Subscriptions)
	assert.IsType(t, &users.SQLiteRepository{}, b.Users)

	claim, err := b.Idempotency.Claim(context.Background(), "admin", "k")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Acquired, claim)
}

func TestOpenDynamoDB(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg := config.Default()
	cfg.Database.Driver = config.DriverDynamoDB
	cfg.AWS.EndpointOverride = "http://localhost:8000"

	b, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, b.AWS)
	assert.IsType(t, &subscriptions.DynamoRepository{}, b.Subscriptions)
	assert.NoError(t, b.Close())
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "postgres"

	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}
