// Package config defines the marketplace service configuration and its
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADEHALL_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Cache    CacheConfig    `toml:"cache"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters. Redis is only dialled when
// the cache backend is "redis".
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// CacheConfig selects the listing cache backend.
type CacheConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `toml:"backend"`
}

// S3Config holds S3-compatible object storage parameters for the listing
// archive. Archival is skipped entirely when Enabled is false.
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

// MarketConfig holds the marketplace business rules. Monetary bounds are TOML
// strings so they parse exactly into decimals.
type MarketConfig struct {
	MinPrice             string            `toml:"min_price"`
	MaxPrice             string            `toml:"max_price"`
	MinDurationHours     int               `toml:"min_duration_hours"`
	MaxDurationHours     int               `toml:"max_duration_hours"`
	MaxActivePerSeller   int               `toml:"max_active_per_seller"`
	FeePercent           string            `toml:"fee_percent"`
	MinFee               string            `toml:"min_fee"`
	MaxFee               string            `toml:"max_fee"`
	ExpiredRetentionDays int               `toml:"expired_retention_days"`
	SweepInterval        duration          `toml:"sweep_interval"`
	PurgeInterval        duration          `toml:"purge_interval"`
	InventoryCapacity    int               `toml:"inventory_capacity"`
	Categories           map[string]string `toml:"categories"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradehall",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradehall-archive",
			ForcePathStyle: true,
		},
		Market: MarketConfig{
			MinPrice:             "1",
			MaxPrice:             "1000000",
			MinDurationHours:     1,
			MaxDurationHours:     168,
			MaxActivePerSeller:   10,
			FeePercent:           "5",
			MinFee:               "10",
			MaxFee:               "1000",
			ExpiredRetentionDays: 14,
			SweepInterval:        duration{5 * time.Minute},
			PurgeInterval:        duration{time.Hour},
			InventoryCapacity:    64,
			Categories: map[string]string{
				"weapons":     "sword",
				"armor":       "shield",
				"consumables": "potion",
				"materials":   "ore",
				"misc":        "crate",
			},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"listing_sold", "listing_expired_swept", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sweep": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sweep, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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

	// Cache
	backend := strings.ToLower(c.Cache.Backend)
	if backend != "memory" && backend != "redis" {
		errs = append(errs, fmt.Sprintf("cache: backend must be memory or redis, got %q", c.Cache.Backend))
	}
	if backend == "redis" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when cache backend is redis")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Market monetary bounds must parse exactly.
	minPrice, err := decimal.NewFromString(c.Market.MinPrice)
	if err != nil {
		errs = append(errs, fmt.Sprintf("market: min_price %q is not a valid decimal", c.Market.MinPrice))
	}
	maxPrice, err2 := decimal.NewFromString(c.Market.MaxPrice)
	if err2 != nil {
		errs = append(errs, fmt.Sprintf("market: max_price %q is not a valid decimal", c.Market.MaxPrice))
	}
	if err == nil && err2 == nil {
		if minPrice.LessThanOrEqual(decimal.Zero) {
			errs = append(errs, "market: min_price must be > 0")
		}
		if maxPrice.LessThan(minPrice) {
			errs = append(errs, "market: max_price must be >= min_price")
		}
	}
	feePercent, err := decimal.NewFromString(c.Market.FeePercent)
	if err != nil {
		errs = append(errs, fmt.Sprintf("market: fee_percent %q is not a valid decimal", c.Market.FeePercent))
	} else if feePercent.IsNegative() {
		errs = append(errs, "market: fee_percent must be >= 0")
	}
	minFee, err := decimal.NewFromString(c.Market.MinFee)
	if err != nil {
		errs = append(errs, fmt.Sprintf("market: min_fee %q is not a valid decimal", c.Market.MinFee))
	}
	maxFee, err2 := decimal.NewFromString(c.Market.MaxFee)
	if err2 != nil {
		errs = append(errs, fmt.Sprintf("market: max_fee %q is not a valid decimal", c.Market.MaxFee))
	}
	if err == nil && err2 == nil && maxFee.LessThan(minFee) {
		errs = append(errs, "market: max_fee must be >= min_fee")
	}

	if c.Market.MinDurationHours < 1 {
		errs = append(errs, "market: min_duration_hours must be >= 1")
	}
	if c.Market.MaxDurationHours < c.Market.MinDurationHours {
		errs = append(errs, "market: max_duration_hours must be >= min_duration_hours")
	}
	if c.Market.MaxActivePerSeller < 1 {
		errs = append(errs, "market: max_active_per_seller must be >= 1")
	}
	if c.Market.ExpiredRetentionDays < 1 {
		errs = append(errs, "market: expired_retention_days must be >= 1")
	}
	if c.Market.SweepInterval.Duration <= 0 {
		errs = append(errs, "market: sweep_interval must be > 0")
	}
	if c.Market.PurgeInterval.Duration <= 0 {
		errs = append(errs, "market: purge_interval must be > 0")
	}
	if c.Market.InventoryCapacity < 1 {
		errs = append(errs, "market: inventory_capacity must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MinPriceDecimal returns the parsed min_price. Call Validate first.
func (m *MarketConfig) MinPriceDecimal() decimal.Decimal { return decimal.RequireFromString(m.MinPrice) }

// MaxPriceDecimal returns the parsed max_price. Call Validate first.
func (m *MarketConfig) MaxPriceDecimal() decimal.Decimal { return decimal.RequireFromString(m.MaxPrice) }

// FeePercentDecimal returns the parsed fee_percent. Call Validate first.
func (m *MarketConfig) FeePercentDecimal() decimal.Decimal {
	return decimal.RequireFromString(m.FeePercent)
}

// MinFeeDecimal returns the parsed min_fee. Call Validate first.
func (m *MarketConfig) MinFeeDecimal() decimal.Decimal { return decimal.RequireFromString(m.MinFee) }

// MaxFeeDecimal returns the parsed max_fee. Call Validate first.
func (m *MarketConfig) MaxFeeDecimal() decimal.Decimal { return decimal.RequireFromString(m.MaxFee) }
