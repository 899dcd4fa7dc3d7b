package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 1024, cfg.CacheMaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.ExecutionTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollBaseDelay)
	assert.Equal(t, 1.5, cfg.PollMultiplier)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 10, cfg.AdmissionBucketCapacity)
	assert.Equal(t, int64(4), cfg.AdmissionMaxConcurrent)
	assert.Equal(t, 10000, cfg.MaxRows)
	assert.Equal(t, 1000, cfg.Athena.FetchPageSize)
	assert.Nil(t, cfg.Athena.AccessKeyID)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("ATHENA_DATABASE", "analytics")
	t.Setenv("ATHENA_WORKGROUP", "primary")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("EXECUTION_TIMEOUT", "600")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("ADMISSION_REFILL_PER_SEC", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "analytics", cfg.Athena.Database)
	assert.Equal(t, "primary", cfg.Athena.WorkGroup)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.ExecutionTimeout, "bare numbers are seconds")
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 0.5, cfg.AdmissionRefillPerSec)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadFromEnv_InvalidValuesWarnAndKeepDefaults(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "many")
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("POLL_MULTIPLIER", "x")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 1.5, cfg.PollMultiplier)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":7070"
log_level: debug
cache_max_entries: 64
athena:
  database: analytics
  workgroup: primary
`), 0o600))
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel, "env wins over the file")
	assert.Equal(t, 64, cfg.CacheMaxEntries)
	assert.Equal(t, "analytics", cfg.Athena.Database)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	key, secret := "AKIA", "shhh"
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "workgroup only",
			mutate: func(c *Config) { c.Athena.Database = "db"; c.Athena.WorkGroup = "wg" },
		},
		{
			name:   "output location only",
			mutate: func(c *Config) { c.Athena.Database = "db"; c.Athena.OutputLocation = "s3://b/p" },
		},
		{
			name:    "missing database",
			mutate:  func(c *Config) { c.Athena.WorkGroup = "wg" },
			wantErr: "ATHENA_DATABASE",
		},
		{
			name:    "no workgroup or output location",
			mutate:  func(c *Config) { c.Athena.Database = "db" },
			wantErr: "ATHENA_WORKGROUP or ATHENA_OUTPUT_LOCATION",
		},
		{
			name: "access key without secret",
			mutate: func(c *Config) {
				c.Athena.Database = "db"
				c.Athena.WorkGroup = "wg"
				c.Athena.AccessKeyID = &key
			},
			wantErr: "must be set together",
		},
		{
			name: "credentials together",
			mutate: func(c *Config) {
				c.Athena.Database = "db"
				c.Athena.WorkGroup = "wg"
				c.Athena.AccessKeyID = &key
				c.Athena.SecretKey = &secret
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", (&Config{LogLevel: "debug"}).SlogLevel().String())
	assert.Equal(t, "WARN", (&Config{LogLevel: "Warning"}).SlogLevel().String())
	assert.Equal(t, "ERROR", (&Config{LogLevel: "error"}).SlogLevel().String())
	assert.Equal(t, "INFO", (&Config{LogLevel: "anything"}).SlogLevel().String())
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
ATHENA_DATABASE="analytics"
LISTEN_ADDR=':6060'
MALFORMED LINE
`), 0o600))
	t.Setenv("LISTEN_ADDR", ":5050") // already set, .env must not clobber it
	t.Setenv("ATHENA_DATABASE", "")

	require.NoError(t, LoadDotEnv(path))

	assert.Equal(t, "analytics", os.Getenv("ATHENA_DATABASE"), "quotes are stripped")
	assert.Equal(t, ":5050", os.Getenv("LISTEN_ADDR"))
	t.Setenv("ATHENA_DATABASE", "") // restore for other tests
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}
