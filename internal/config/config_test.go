package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
log_level = "debug"

[bybit]
api_key = "key"
api_secret = "secret"

[database]
host = "db.internal"
port = 5433

[server]
port = 9000

[sync]
interval = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "key", cfg.Bybit.ApiKey)
	assert.Equal(t, "https://api.bybit.com", cfg.Bybit.BaseURL) // default kept
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "botdesk", cfg.Database.Database) // default kept
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval.Duration)

	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
[bybit]
api_key = "file-key"
api_secret = "file-secret"
`)

	t.Setenv("BOTDESK_BYBIT_API_KEY", "env-key")
	t.Setenv("BOTDESK_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("BOTDESK_SERVER_CORS_ORIGINS", "https://dash.example.com, https://ops.example.com")
	t.Setenv("BOTDESK_SYNC_INTERVAL", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Bybit.ApiKey)
	assert.Equal(t, "file-secret", cfg.Bybit.ApiSecret)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t,
		[]string{"https://dash.example.com", "https://ops.example.com"},
		cfg.Server.CORSOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval.Duration)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Bybit.ApiKey = "key-without-secret"
	cfg.Server.Port = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "api_key and api_secret")
	assert.Contains(t, err.Error(), "port 0")
	assert.Contains(t, err.Error(), "redis")
}

func TestValidateAllowsMissingCredentials(t *testing.T) {
	// Read-only deployments run without exchange credentials.
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresCompleteS3(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Bucket = "exports"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_key")

	cfg.S3.AccessKey = "ak"
	cfg.S3.SecretKey = "sk"
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresCompleteSMS(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.SMSAccountSID = "sid"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sms")
}
