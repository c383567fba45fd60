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
// built-in defaults, applies BOTDESK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BOTDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.ApiKey, "BOTDESK_BYBIT_API_KEY")
	setStr(&cfg.Bybit.ApiSecret, "BOTDESK_BYBIT_API_SECRET")
	setStr(&cfg.Bybit.BaseURL, "BOTDESK_BYBIT_BASE_URL")

	// ── Database ──
	setStr(&cfg.Database.DSN, "BOTDESK_DATABASE_DSN")
	setStr(&cfg.Database.Host, "BOTDESK_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BOTDESK_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BOTDESK_DATABASE_NAME")
	setStr(&cfg.Database.User, "BOTDESK_DATABASE_USER")
	setStr(&cfg.Database.Password, "BOTDESK_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BOTDESK_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "BOTDESK_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BOTDESK_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "BOTDESK_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BOTDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOTDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOTDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOTDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BOTDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BOTDESK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BOTDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BOTDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "BOTDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BOTDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BOTDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BOTDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BOTDESK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "BOTDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BOTDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BOTDESK_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOTDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BOTDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.SMSAccountSID, "BOTDESK_NOTIFY_SMS_ACCOUNT_SID")
	setStr(&cfg.Notify.SMSAuthToken, "BOTDESK_NOTIFY_SMS_AUTH_TOKEN")
	setStr(&cfg.Notify.SMSFrom, "BOTDESK_NOTIFY_SMS_FROM")
	setStr(&cfg.Notify.SMSTo, "BOTDESK_NOTIFY_SMS_TO")
	setStringSlice(&cfg.Notify.Events, "BOTDESK_NOTIFY_EVENTS")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "BOTDESK_SYNC_INTERVAL")
	setDuration(&cfg.Sync.PriceCacheTTL, "BOTDESK_SYNC_PRICE_CACHE_TTL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BOTDESK_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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
