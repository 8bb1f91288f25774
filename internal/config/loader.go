package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "POOLPILOT_"

// Load reads configuration from the given TOML file, merges any .env file in
// the working directory, and applies POOLPILOT_* environment overrides on
// top. Pass an empty path to start from Defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	setStr(&cfg.Dex.BaseURL, "DEX_BASE_URL")
	setStr(&cfg.Dex.WsURL, "DEX_WS_URL")
	setStr(&cfg.Dex.ApiKey, "DEX_API_KEY")
	setDuration(&cfg.Dex.PriceMaxAge, "DEX_PRICE_MAX_AGE")
	setBool(&cfg.Dex.StreamEnabled, "DEX_STREAM_ENABLED")

	setStr(&cfg.Orderer.BaseURL, "ORDERER_BASE_URL")
	setStr(&cfg.Orderer.ApiKey, "ORDERER_API_KEY")
	setInt(&cfg.Orderer.RateLimit, "ORDERER_RATE_LIMIT")
	setDuration(&cfg.Orderer.RateWindow, "ORDERER_RATE_WINDOW")
	setDuration(&cfg.Orderer.DedupTTL, "ORDERER_DEDUP_TTL")

	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	setDuration(&cfg.Engine.TickInterval, "ENGINE_TICK_INTERVAL")
	setBool(&cfg.Engine.ClusterLocks, "ENGINE_CLUSTER_LOCKS")
	setDuration(&cfg.Engine.LockTTL, "ENGINE_LOCK_TTL")

	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	return v, ok
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := lookup(key); ok {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
