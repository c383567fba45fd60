// Package config defines the top-level configuration for the dashboard
// backend and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BOTDESK_* environment
// variables.
type Config struct {
	Bybit    BybitConfig    `toml:"bybit"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Sync     SyncConfig     `toml:"sync"`
	LogLevel string         `toml:"log_level"`
}

// BybitConfig holds Bybit v5 API credentials and endpoint.
type BybitConfig struct {
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// S3Config holds S3-compatible object storage parameters for exports. When
// Bucket is empty the exporter is disabled.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds the operator notification channels. Channels with empty
// credentials are skipped.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	SMSAccountSID  string   `toml:"sms_account_sid"`
	SMSAuthToken   string   `toml:"sms_auth_token"`
	SMSFrom        string   `toml:"sms_from"`
	SMSTo          string   `toml:"sms_to"`
	Events         []string `toml:"events"`
}

// SyncConfig controls the background reconcile and alert-match loops. With
// Interval zero the loops are disabled and sync only runs when triggered
// over the API.
type SyncConfig struct {
	Interval      duration `toml:"interval"`
	PriceCacheTTL duration `toml:"price_cache_ttl"`
}

// duration wraps time.Duration so TOML files can use strings like "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bybit: BybitConfig{
			BaseURL: "https://api.bybit.com",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "botdesk",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "",
			Region:         "us-east-1",
			Bucket:         "",
			UseSSL:         true,
			ForcePathStyle: false,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"bulk_close_partial_failure", "error"},
		},
		Sync: SyncConfig{
			Interval:      duration{30 * time.Second},
			PriceCacheTTL: duration{time.Minute},
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
// a combined error describing every problem found. Missing Bybit credentials
// are NOT an error here: the backend serves read endpoints without them and
// sync triggers fail with a clear error instead.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bybit credentials must be set together or not at all.
	hasKey := c.Bybit.ApiKey != ""
	hasSecret := c.Bybit.ApiSecret != ""
	if hasKey != hasSecret {
		errs = append(errs, "bybit: api_key and api_secret must be set together")
	}
	if c.Bybit.BaseURL == "" {
		errs = append(errs, "bybit: base_url must not be empty")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port %d out of range", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database name must not be empty")
		}
		if c.Database.User == "" {
			errs = append(errs, "database: user must not be empty")
		}
	}
	if c.Database.PoolMaxConns <= 0 {
		errs = append(errs, "database: pool_max_conns must be positive")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3 fields must be complete when the exporter is enabled.
	if c.S3.Bucket != "" {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when bucket is set")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, "s3: access_key and secret_key are required when bucket is set")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	// SMS credentials must be set together or not at all.
	smsFields := []string{c.Notify.SMSAccountSID, c.Notify.SMSAuthToken, c.Notify.SMSFrom, c.Notify.SMSTo}
	smsSet := 0
	for _, f := range smsFields {
		if f != "" {
			smsSet++
		}
	}
	if smsSet != 0 && smsSet != len(smsFields) {
		errs = append(errs, "notify: sms_account_sid, sms_auth_token, sms_from, and sms_to must all be set together")
	}

	if c.Sync.Interval.Duration < 0 {
		errs = append(errs, "sync: interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
