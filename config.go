package klatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ambiyansyah-risyal/klatch/internal/backoff"
)

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the file form of the client configuration.
type Config struct {
	Endpoint       string               `yaml:"endpoint" toml:"endpoint"`
	APIKey         string               `yaml:"api_key" toml:"api_key"`
	Model          string               `yaml:"model" toml:"model"`
	Headers        map[string]string    `yaml:"headers" toml:"headers"`
	Retry          RetryConfig          `yaml:"retry" toml:"retry"`
	Cache          CacheConfig          `yaml:"cache" toml:"cache"`
	Deduplication  DeduplicationConfig  `yaml:"deduplication" toml:"deduplication"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" toml:"rate_limit"`
	CircuitBreaker CircuitBreakerFile   `yaml:"circuit_breaker" toml:"circuit_breaker"`
	Server         ServerConfig         `yaml:"server" toml:"server"`
	Log            LogConfig            `yaml:"log" toml:"log"`
}

// RetryConfig mirrors RetryPolicy.
type RetryConfig struct {
	MaxAttempts       int      `yaml:"max_attempts" toml:"max_attempts"`
	InitialDelay      Duration `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay          Duration `yaml:"max_delay" toml:"max_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	Patterns          []string `yaml:"patterns" toml:"patterns"`
	StatusCodes       []int    `yaml:"status_codes" toml:"status_codes"`
	// Strategy is one of "capped" (default), "jitter" or "decorrelated".
	Strategy string  `yaml:"strategy" toml:"strategy"`
	Jitter   float64 `yaml:"jitter" toml:"jitter"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Disabled     bool     `yaml:"disabled" toml:"disabled"`
	TTL          Duration `yaml:"ttl" toml:"ttl"`
	MaxSize      int      `yaml:"max_size" toml:"max_size"`
	CacheStreams bool     `yaml:"cache_streams" toml:"cache_streams"`
}

// DeduplicationConfig configures in-flight deduplication.
type DeduplicationConfig struct {
	Disabled bool `yaml:"disabled" toml:"disabled"`
}

// RateLimitConfig enables the client-side rate limiter when
// RequestsPerSecond is positive.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// CircuitBreakerFile configures the optional circuit breaker.
type CircuitBreakerFile struct {
	Enabled          bool     `yaml:"enabled" toml:"enabled"`
	FailureThreshold int      `yaml:"failure_threshold" toml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout" toml:"recovery_timeout"`
	SuccessThreshold int      `yaml:"success_threshold" toml:"success_threshold"`
}

// ServerConfig configures the local gateway.
type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Debug  bool   `yaml:"debug" toml:"debug"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	policy := DefaultRetryPolicy()
	return Config{
		Endpoint: defaultEndpoint,
		Model:    "gpt-4o-mini",
		Retry: RetryConfig{
			MaxAttempts:       policy.MaxAttempts,
			InitialDelay:      Duration{policy.InitialDelay},
			MaxDelay:          Duration{policy.MaxDelay},
			BackoffMultiplier: policy.BackoffMultiplier,
			Patterns:          policy.RetryablePatterns,
			StatusCodes:       policy.RetryableStatusCodes,
			Strategy:          "capped",
			Jitter:            policy.Jitter,
		},
		Cache: CacheConfig{
			TTL:     Duration{defaultCacheTTL},
			MaxSize: defaultCacheMaxSize,
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Server:    ServerConfig{Listen: "127.0.0.1:8088"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file on top of
// DefaultConfig. ${VAR} references are expanded from the environment.
func LoadConfig(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), &cfg)
	case ".toml":
		err = toml.Unmarshal([]byte(expanded), &cfg)
	default:
		return Config{}, fmt.Errorf("config file %q: unsupported extension %q", absPath, filepath.Ext(absPath))
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", absPath, err)
	}
	return cfg, nil
}

// Validate performs sanity checks on the configuration.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Endpoint) == "" {
		problems = append(problems, "endpoint must be provided")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := parseStrategy(c.Retry.Strategy); err != nil {
		problems = append(problems, err.Error())
	}
	if !c.Cache.Disabled {
		if err := validateCacheBounds(c.Cache.TTL.Duration, c.Cache.MaxSize); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		problems = append(problems, "rate_limit.requests_per_second must be non-negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		problems = append(problems, "rate_limit.burst must be positive when rate limiting is enabled")
	}
	if c.CircuitBreaker.FailureThreshold < 0 || c.CircuitBreaker.SuccessThreshold < 0 {
		problems = append(problems, "circuit_breaker thresholds must be non-negative")
	}
	for name := range c.Headers {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "headers must not contain an empty name")
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          c.Retry.MaxAttempts,
		InitialDelay:         c.Retry.InitialDelay.Duration,
		MaxDelay:             c.Retry.MaxDelay.Duration,
		BackoffMultiplier:    c.Retry.BackoffMultiplier,
		RetryablePatterns:    c.Retry.Patterns,
		RetryableStatusCodes: c.Retry.StatusCodes,
		Jitter:               c.Retry.Jitter,
	}
}

// Options converts the configuration into client options. logger may be nil.
func (c Config) Options(logger Logger) []Option {
	opts := []Option{
		WithEndpoint(c.Endpoint),
		WithAPIKey(c.APIKey),
		WithHeaders(c.Headers),
		WithRetryPolicy(c.RetryPolicy()),
	}

	if strategy, err := parseStrategy(c.Retry.Strategy); err == nil {
		opts = append(opts, WithBackoffStrategy(strategy))
	}

	if c.Cache.Disabled {
		opts = append(opts, WithoutCache())
	} else {
		opts = append(opts, WithCache(c.Cache.TTL.Duration, c.Cache.MaxSize))
		if c.Cache.CacheStreams {
			opts = append(opts, WithStreamCachePolicy(StreamCacheFinalText))
		}
	}
	if c.Deduplication.Disabled {
		opts = append(opts, WithoutDeduplication())
	}
	if c.RateLimit.RequestsPerSecond > 0 {
		opts = append(opts, WithRateLimit(c.RateLimit.RequestsPerSecond, c.RateLimit.Burst))
	}
	if c.CircuitBreaker.Enabled {
		opts = append(opts, WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  c.CircuitBreaker.RecoveryTimeout.Duration,
			SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
		}))
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
		if c.Log.Debug {
			opts = append(opts, WithDebug())
		}
	}
	return opts
}

// NewLogger builds the slog logger described by the log section.
func (c Config) NewLogger() *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if c.Log.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}

func parseStrategy(name string) (backoff.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "capped":
		return backoff.CappedExponentialStrategy{}, nil
	case "jitter":
		return backoff.ExponentialJitterStrategy{}, nil
	case "decorrelated":
		return backoff.DecorrelatedJitterStrategy{}, nil
	}
	return nil, fmt.Errorf("retry.strategy %q is not one of capped, jitter, decorrelated", name)
}
