// Package config loads and validates application configuration from
// environment variables and the functions/metrics catalog file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Store settings. DatabaseURL selects the backend by scheme:
	// postgres:// or postgresql://, sqlite:<path>, or memory:.
	DatabaseURL    string
	DBMaxConns     int
	DBMaxRetries   int
	DBRetryBackoff time.Duration

	// CatalogPath is the TOML file describing functions and metrics.
	CatalogPath string

	// Pagination settings.
	DefaultPageSize int
	MaxPageSize     int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
	// TraceSampleRatio is the fraction of root spans kept, in [0, 1].
	TraceSampleRatio float64
	MetricInterval   time.Duration

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS handling.
	CORSOrigins []string

	// Rate limiting, per client IP. RPS <= 0 disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// Fine-tuning providers.
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	FireworksAPIKey    string
	FireworksAccountID string
	FireworksBaseURL   string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
	ShutdownTimeout     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg Config
	var err error

	cfg.Port, err = envInt("CURATOR_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("CURATOR_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("CURATOR_WRITE_TIMEOUT", 60*time.Second)
	collect(err)

	cfg.DatabaseURL = envStr("DATABASE_URL", "memory:")
	cfg.DBMaxConns, err = envInt("CURATOR_DB_MAX_CONNS", 10)
	collect(err)
	cfg.DBMaxRetries, err = envInt("CURATOR_DB_MAX_RETRIES", 3)
	collect(err)
	cfg.DBRetryBackoff, err = envDuration("CURATOR_DB_RETRY_BACKOFF", 50*time.Millisecond)
	collect(err)

	cfg.CatalogPath = envStr("CURATOR_CONFIG_FILE", "curator.toml")

	cfg.DefaultPageSize, err = envInt("CURATOR_DEFAULT_PAGE_SIZE", 10)
	collect(err)
	cfg.MaxPageSize, err = envInt("CURATOR_MAX_PAGE_SIZE", 100)
	collect(err)

	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "curator")
	cfg.TraceSampleRatio, err = envFloat("CURATOR_TRACE_SAMPLE_RATIO", 1)
	collect(err)
	cfg.MetricInterval, err = envDuration("CURATOR_METRIC_INTERVAL", 15*time.Second)
	collect(err)

	cfg.CORSOrigins = envList("CURATOR_CORS_ORIGINS")

	cfg.RateLimitRPS, err = envFloat("CURATOR_RATE_LIMIT_RPS", 50)
	collect(err)
	cfg.RateLimitBurst, err = envInt("CURATOR_RATE_LIMIT_BURST", 100)
	collect(err)

	cfg.OpenAIAPIKey = envStr("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = envStr("OPENAI_BASE_URL", "")
	cfg.FireworksAPIKey = envStr("FIREWORKS_API_KEY", "")
	cfg.FireworksAccountID = envStr("FIREWORKS_ACCOUNT_ID", "")
	cfg.FireworksBaseURL = envStr("FIREWORKS_BASE_URL", "https://api.fireworks.ai")

	cfg.LogLevel = envStr("CURATOR_LOG_LEVEL", "info")
	maxBody, err := envInt("CURATOR_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.ShutdownTimeout, err = envDuration("CURATOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("CURATOR_DEFAULT_PAGE_SIZE must be positive"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("CURATOR_TRACE_SAMPLE_RATIO must be between 0 and 1"))
	}
	if c.MaxPageSize < c.DefaultPageSize {
		errs = append(errs, errors.New("CURATOR_MAX_PAGE_SIZE must be >= CURATOR_DEFAULT_PAGE_SIZE"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("CURATOR_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("CURATOR_RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	if c.FireworksAPIKey != "" && c.FireworksAccountID == "" {
		errs = append(errs, errors.New("FIREWORKS_ACCOUNT_ID is required with FIREWORKS_API_KEY"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
