package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEHALL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEHALL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEHALL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEHALL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEHALL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEHALL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEHALL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEHALL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEHALL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEHALL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEHALL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEHALL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEHALL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEHALL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEHALL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEHALL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEHALL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEHALL_REDIS_TLS_ENABLED")

	// ── Cache ──
	setStr(&cfg.Cache.Backend, "TRADEHALL_CACHE_BACKEND")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADEHALL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEHALL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEHALL_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEHALL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEHALL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEHALL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEHALL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEHALL_S3_FORCE_PATH_STYLE")

	// ── Market ──
	setStr(&cfg.Market.MinPrice, "TRADEHALL_MARKET_MIN_PRICE")
	setStr(&cfg.Market.MaxPrice, "TRADEHALL_MARKET_MAX_PRICE")
	setInt(&cfg.Market.MinDurationHours, "TRADEHALL_MARKET_MIN_DURATION_HOURS")
	setInt(&cfg.Market.MaxDurationHours, "TRADEHALL_MARKET_MAX_DURATION_HOURS")
	setInt(&cfg.Market.MaxActivePerSeller, "TRADEHALL_MARKET_MAX_ACTIVE_PER_SELLER")
	setStr(&cfg.Market.FeePercent, "TRADEHALL_MARKET_FEE_PERCENT")
	setStr(&cfg.Market.MinFee, "TRADEHALL_MARKET_MIN_FEE")
	setStr(&cfg.Market.MaxFee, "TRADEHALL_MARKET_MAX_FEE")
	setInt(&cfg.Market.ExpiredRetentionDays, "TRADEHALL_MARKET_EXPIRED_RETENTION_DAYS")
	setDuration(&cfg.Market.SweepInterval, "TRADEHALL_MARKET_SWEEP_INTERVAL")
	setDuration(&cfg.Market.PurgeInterval, "TRADEHALL_MARKET_PURGE_INTERVAL")
	setInt(&cfg.Market.InventoryCapacity, "TRADEHALL_MARKET_INVENTORY_CAPACITY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEHALL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEHALL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEHALL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADEHALL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADEHALL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRADEHALL_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEHALL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEHALL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEHALL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEHALL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEHALL_MODE")
	setStr(&cfg.LogLevel, "TRADEHALL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
