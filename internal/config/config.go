// Package config defines the top-level configuration for the strategy engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POOLPILOT_* environment
// variables.
type Config struct {
	Dex      DexConfig      `toml:"dex"`
	Orderer  OrdererConfig  `toml:"orderer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// DexConfig holds the DEX aggregator endpoints.
type DexConfig struct {
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
	ApiKey  string `toml:"api_key"`

	// PriceMaxAge bounds how stale a cached price may be before the oracle
	// refetches.
	PriceMaxAge duration `toml:"price_max_age"`

	// StreamEnabled turns the WebSocket price feed on.
	StreamEnabled bool `toml:"stream_enabled"`
}

// OrdererConfig holds the order-execution service endpoint and limits.
type OrdererConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`

	// RateLimit caps order placements per wallet per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	// DedupTTL is the window in which identical orders are suppressed.
	DedupTTL duration `toml:"dedup_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for run-history
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds scheduler parameters.
type EngineConfig struct {
	// TickInterval is the scheduling cadence for all instances.
	TickInterval duration `toml:"tick_interval"`

	// ClusterLocks wraps each tick in a Redis lock so several engine
	// processes can share the instance set.
	ClusterLocks bool     `toml:"cluster_locks"`
	LockTTL      duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Dex: DexConfig{
			BaseURL:       "https://api.dex.example.com/v1",
			WsURL:         "wss://stream.dex.example.com/v1/prices",
			PriceMaxAge:   duration{10 * time.Second},
			StreamEnabled: true,
		},
		Orderer: OrdererConfig{
			BaseURL:    "https://orders.dex.example.com/v1",
			RateLimit:  10,
			RateWindow: duration{time.Second},
			DedupTTL:   duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolpilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolpilot-runs",
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			TickInterval: duration{5 * time.Second},
			ClusterLocks: false,
			LockTTL:      duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"instance_deactivated", "tick_panic", "order_failed"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Dex.BaseURL == "" {
		errs = append(errs, "dex: base_url must not be empty")
	}
	if c.Dex.StreamEnabled && c.Dex.WsURL == "" {
		errs = append(errs, "dex: ws_url must not be empty when stream_enabled")
	}
	if c.Dex.PriceMaxAge.Duration <= 0 {
		errs = append(errs, "dex: price_max_age must be positive")
	}

	if c.Orderer.BaseURL == "" {
		errs = append(errs, "orderer: base_url must not be empty")
	}
	if c.Orderer.RateLimit < 1 {
		errs = append(errs, "orderer: rate_limit must be >= 1")
	}
	if c.Orderer.RateWindow.Duration <= 0 {
		errs = append(errs, "orderer: rate_window must be positive")
	}
	if c.Orderer.DedupTTL.Duration <= 0 {
		errs = append(errs, "orderer: dedup_ttl must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.Engine.TickInterval.Duration < time.Second {
		errs = append(errs, "engine: tick_interval must be at least 1s")
	}
	if c.Engine.ClusterLocks && c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be positive when cluster_locks is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
