// Package config handles application configuration: defaults, an optional
// YAML file, and environment variable overrides, in that precedence order.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AthenaConfig holds settings for the external Athena engine.
type AthenaConfig struct {
	Region         string  `yaml:"region"`
	WorkGroup      string  `yaml:"workgroup"`
	Database       string  `yaml:"database"`
	OutputLocation string  `yaml:"output_location"` // s3://bucket/prefix for query results
	AccessKeyID    *string `yaml:"access_key_id"`   // nil: default AWS credential chain
	SecretKey      *string `yaml:"secret_key"`
	FetchPageSize  int     `yaml:"fetch_page_size"` // rows per results call (max 1000)
}

// Config holds the configuration for the query core and its HTTP surface.
type Config struct {
	ListenAddr string `yaml:"listen_addr"` // default ":8080"
	LogLevel   string `yaml:"log_level"`   // debug, info, warn, error (default "info")
	Env        string `yaml:"env"`         // "development" (default) or "production"

	Athena AthenaConfig `yaml:"athena"`

	// Result cache
	CacheTTL        time.Duration `yaml:"cache_ttl"`         // default 300s
	CacheMaxEntries int           `yaml:"cache_max_entries"` // default 1024

	// Execution
	ExecutionTimeout time.Duration `yaml:"execution_timeout"` // wall-clock budget (default 5m)
	PollBaseDelay    time.Duration `yaml:"poll_base_delay"`   // default 500ms
	PollMultiplier   float64       `yaml:"poll_multiplier"`   // default 1.5
	PollMaxDelay     time.Duration `yaml:"poll_max_delay"`    // default 5s

	// Retry policy
	RetryMaxAttempts int           `yaml:"retry_max_attempts"` // default 3
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`   // default 200ms
	RetryMultiplier  float64       `yaml:"retry_multiplier"`   // default 2.0
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`    // default 5s

	// Admission control (per caller key)
	AdmissionBucketCapacity int     `yaml:"admission_bucket_capacity"` // default 10
	AdmissionRefillPerSec   float64 `yaml:"admission_refill_per_sec"`  // default 1
	AdmissionMaxConcurrent  int64   `yaml:"admission_max_concurrent"`  // default 4

	// Query shaping
	DefaultPageSize int `yaml:"default_page_size"` // default 500
	MaxRows         int `yaml:"max_rows"`          // per-query row cap (default 10000)

	// HTTP surface
	RateLimitRPS       float64  `yaml:"rate_limit_rps"`   // per-client sustained rate (default 100)
	RateLimitBurst     int      `yaml:"rate_limit_burst"` // per-client burst (default 200)
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	HistorySize        int      `yaml:"history_size"` // recent-query ring size (default 200)

	// Warnings collects non-fatal warnings generated during loading. They are
	// logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:              ":8080",
		LogLevel:                "info",
		Env:                     "development",
		Athena:                  AthenaConfig{FetchPageSize: 1000},
		CacheTTL:                300 * time.Second,
		CacheMaxEntries:         1024,
		ExecutionTimeout:        5 * time.Minute,
		PollBaseDelay:           500 * time.Millisecond,
		PollMultiplier:          1.5,
		PollMaxDelay:            5 * time.Second,
		RetryMaxAttempts:        3,
		RetryBaseDelay:          200 * time.Millisecond,
		RetryMultiplier:         2.0,
		RetryMaxDelay:           5 * time.Second,
		AdmissionBucketCapacity: 10,
		AdmissionRefillPerSec:   1,
		AdmissionMaxConcurrent:  4,
		DefaultPageSize:         500,
		MaxRows:                 10000,
		RateLimitRPS:            100,
		RateLimitBurst:          200,
		CORSAllowedOrigins:      []string{"*"},
		HistorySize:             200,
	}
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Athena.Database == "" {
		return fmt.Errorf("ATHENA_DATABASE must be set")
	}
	if c.Athena.WorkGroup == "" && c.Athena.OutputLocation == "" {
		return fmt.Errorf("one of ATHENA_WORKGROUP or ATHENA_OUTPUT_LOCATION must be set")
	}
	if (c.Athena.AccessKeyID == nil) != (c.Athena.SecretKey == nil) {
		return fmt.Errorf("ATHENA_ACCESS_KEY_ID and ATHENA_SECRET_KEY must be set together")
	}
	return nil
}

// Load builds the configuration: defaults, then the YAML file at configPath
// (if non-empty), then environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath) //nolint:gosec // path is caller-controlled
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables over defaults.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Env, "ENV")

	setString(&c.Athena.Region, "ATHENA_REGION")
	setString(&c.Athena.WorkGroup, "ATHENA_WORKGROUP")
	setString(&c.Athena.Database, "ATHENA_DATABASE")
	setString(&c.Athena.OutputLocation, "ATHENA_OUTPUT_LOCATION")
	if v := os.Getenv("ATHENA_ACCESS_KEY_ID"); v != "" {
		c.Athena.AccessKeyID = &v
	}
	if v := os.Getenv("ATHENA_SECRET_KEY"); v != "" {
		c.Athena.SecretKey = &v
	}
	c.setInt(&c.Athena.FetchPageSize, "ATHENA_FETCH_PAGE_SIZE")

	c.setDuration(&c.CacheTTL, "CACHE_TTL")
	c.setInt(&c.CacheMaxEntries, "CACHE_MAX_ENTRIES")

	c.setDuration(&c.ExecutionTimeout, "EXECUTION_TIMEOUT")
	c.setDuration(&c.PollBaseDelay, "POLL_BASE_DELAY")
	c.setFloat(&c.PollMultiplier, "POLL_MULTIPLIER")
	c.setDuration(&c.PollMaxDelay, "POLL_MAX_DELAY")

	c.setInt(&c.RetryMaxAttempts, "RETRY_MAX_ATTEMPTS")
	c.setDuration(&c.RetryBaseDelay, "RETRY_BASE_DELAY")
	c.setFloat(&c.RetryMultiplier, "RETRY_MULTIPLIER")
	c.setDuration(&c.RetryMaxDelay, "RETRY_MAX_DELAY")

	c.setInt(&c.AdmissionBucketCapacity, "ADMISSION_BUCKET_CAPACITY")
	c.setFloat(&c.AdmissionRefillPerSec, "ADMISSION_REFILL_PER_SEC")
	c.setInt64(&c.AdmissionMaxConcurrent, "ADMISSION_MAX_CONCURRENT")

	c.setInt(&c.DefaultPageSize, "QUERY_DEFAULT_PAGE_SIZE")
	c.setInt(&c.MaxRows, "QUERY_MAX_ROWS")

	c.setFloat(&c.RateLimitRPS, "RATE_LIMIT_RPS")
	c.setInt(&c.RateLimitBurst, "RATE_LIMIT_BURST")
	c.setInt(&c.HistorySize, "HISTORY_SIZE")

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = compactNonEmpty(strings.Split(v, ","))
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: invalid integer %q, keeping %d", key, v, *dst))
		return
	}
	*dst = n
}

func (c *Config) setInt64(dst *int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: invalid integer %q, keeping %d", key, v, *dst))
		return
	}
	*dst = n
}

func (c *Config) setFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: invalid number %q, keeping %g", key, v, *dst))
		return
	}
	*dst = f
}

func (c *Config) setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are treated as seconds.
		if secs, serr := strconv.Atoi(v); serr == nil {
			*dst = time.Duration(secs) * time.Second
			return
		}
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: invalid duration %q, keeping %s", key, v, *dst))
		return
	}
	*dst = d
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
