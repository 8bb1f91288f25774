package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[dex]
base_url = "https://dex.test/v1"
ws_url = "wss://dex.test/prices"
price_max_age = "30s"

[orderer]
base_url = "https://orders.test/v1"
rate_limit = 5
rate_window = "2s"
dedup_ttl = "90s"

[engine]
tick_interval = "10s"
cluster_locks = true
lock_ttl = "1m"

[notify]
events = ["tick_panic"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://dex.test/v1", cfg.Dex.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Dex.PriceMaxAge.Duration)
	assert.Equal(t, 5, cfg.Orderer.RateLimit)
	assert.Equal(t, 90*time.Second, cfg.Orderer.DedupTTL.Duration)
	assert.Equal(t, 10*time.Second, cfg.Engine.TickInterval.Duration)
	assert.True(t, cfg.Engine.ClusterLocks)
	assert.Equal(t, time.Minute, cfg.Engine.LockTTL.Duration)
	assert.Equal(t, []string{"tick_panic"}, cfg.Notify.Events)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POOLPILOT_LOG_LEVEL", "warn")
	t.Setenv("POOLPILOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("POOLPILOT_POSTGRES_PORT", "5433")
	t.Setenv("POOLPILOT_ENGINE_TICK_INTERVAL", "3s")
	t.Setenv("POOLPILOT_ENGINE_CLUSTER_LOCKS", "true")
	t.Setenv("POOLPILOT_NOTIFY_EVENTS", "tick_panic, order_failed")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, 3*time.Second, cfg.Engine.TickInterval.Duration)
	assert.True(t, cfg.Engine.ClusterLocks)
	assert.Equal(t, []string{"tick_panic", "order_failed"}, cfg.Notify.Events)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Dex.BaseURL = ""
	cfg.Orderer.RateLimit = 0
	cfg.Engine.TickInterval.Duration = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "dex: base_url")
	assert.Contains(t, msg, "orderer: rate_limit")
	assert.Contains(t, msg, "engine: tick_interval")
	assert.Contains(t, msg, "redis: addr")
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/poolpilot"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""

	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"nope\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}
