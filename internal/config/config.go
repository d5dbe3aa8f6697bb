// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrBaseURLRequired is returned when AIGE_BASE_URL is not set.
	ErrBaseURLRequired = errors.New("config: AIGE_BASE_URL is required")
	// ErrUnknownAllocator is returned when URL_ALLOCATOR is not remote or s3.
	ErrUnknownAllocator = errors.New("config: URL_ALLOCATOR must be remote or s3")
	// ErrS3Incomplete is returned when the s3 allocator is selected without a bucket or region.
	ErrS3Incomplete = errors.New("config: S3_BUCKET and S3_REGION are required for the s3 allocator")
)

// Allocator backends.
const (
	AllocatorRemote = "remote"
	AllocatorS3     = "s3"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int      `env:"PORT, default=8080" json:"port"`
	CORSOrigins []string `env:"CORS_ORIGINS, default=*" json:"cors_origins"`

	// AIGE service settings
	AIGEBaseURL     string        `env:"AIGE_BASE_URL, required" json:"aige_base_url"`
	AIGEHTTPTimeout time.Duration `env:"AIGE_HTTP_TIMEOUT, default=30s" json:"aige_http_timeout"`

	// Polling settings
	PollInterval   time.Duration `env:"POLL_INTERVAL, default=5s" json:"poll_interval"`
	PollTimeout    time.Duration `env:"POLL_TIMEOUT, default=5m" json:"poll_timeout"`
	NotFoundBudget int           `env:"NOT_FOUND_BUDGET, default=0" json:"not_found_budget"`

	// URL allocation settings
	URLAllocator       string        `env:"URL_ALLOCATOR, default=remote" json:"url_allocator"` // "remote" or "s3"
	S3Bucket           string        `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string        `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string        `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3KeyPrefix        string        `env:"S3_KEY_PREFIX, default=aige" json:"s3_key_prefix"`
	S3PresignExpiry    time.Duration `env:"S3_PRESIGN_EXPIRY, default=1h" json:"s3_presign_expiry"`
	AWSAccessKeyID     string        `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Task store settings. Empty keeps tasks in memory.
	StorePath string `env:"STORE_PATH" json:"store_path,omitempty"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if the presigned URLs are minted locally against S3.
func (c *Config) S3Enabled() bool {
	return strings.EqualFold(c.URLAllocator, AllocatorS3)
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "AIGE_BASE_URL") {
			return nil, ErrBaseURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.AIGEBaseURL == "" {
		return ErrBaseURLRequired
	}
	switch strings.ToLower(c.URLAllocator) {
	case AllocatorRemote:
	case AllocatorS3:
		if c.S3Bucket == "" || c.S3Region == "" {
			return ErrS3Incomplete
		}
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownAllocator, c.URLAllocator)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, AIGEBaseURL: %s, AIGEHTTPTimeout: %s, PollInterval: %s, PollTimeout: %s, NotFoundBudget: %d, URLAllocator: %s, S3Bucket: %s, S3Region: %s, StorePath: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.AIGEBaseURL,
		c.AIGEHTTPTimeout,
		c.PollInterval,
		c.PollTimeout,
		c.NotFoundBudget,
		c.URLAllocator,
		c.S3Bucket,
		c.S3Region,
		c.StorePath,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
