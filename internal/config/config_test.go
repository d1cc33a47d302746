package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/commerce?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, "commerce-core", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)

	assert.Equal(t, 5*time.Second, cfg.Outbox.PollingInterval)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)

	assert.Equal(t, 2*time.Second, cfg.Payment.WebhookRetryBase)
	assert.Equal(t, 32*time.Second, cfg.Payment.WebhookRetryCap)
	assert.Equal(t, 5, cfg.Payment.WebhookMaxAttempts)

	assert.Equal(t, 15*time.Minute, cfg.Inventory.ReservationTTL)
	assert.Equal(t, "optimistic", cfg.Inventory.DefaultStrategy)
	assert.Equal(t, int64(100), cfg.Monitoring.WarnWaiting)
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_ADDR", "db:5432")
	t.Setenv("POSTGRES_USER", "commerce")
	t.Setenv("POSTGRES_PASSWORD", "p@ss:word")
	t.Setenv("POSTGRES_DB", "commerce")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://commerce:p%40ss%3Aword@db:5432/commerce?sslmode=disable", cfg.DBDSN)
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_ADDR", "")
	t.Setenv("POSTGRES_USER", "")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("POSTGRES_DB", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadStrategy(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("INVENTORY_STRATEGY_DEFAULT", "hopeful")

	_, err := Load()
	assert.Error(t, err)
}
