package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadMap(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing AIGE_BASE_URL returns error", func(t *testing.T) {
		_, err := loadMap(t, map[string]string{"PORT": "9000"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBaseURLRequired)
	})

	t.Run("base URL present succeeds", func(t *testing.T) {
		cfg, err := loadMap(t, map[string]string{"AIGE_BASE_URL": "https://aige.test"})
		require.NoError(t, err)
		assert.Equal(t, "https://aige.test", cfg.AIGEBaseURL)
	})
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("AIGE_BASE_URL", "https://env.aige.test")
	t.Setenv("PORT", "3001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://env.aige.test", cfg.AIGEBaseURL)
	assert.Equal(t, 3001, cfg.Port)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{"AIGE_BASE_URL": "https://aige.test"})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.AIGEHTTPTimeout)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.PollTimeout)
	assert.Zero(t, cfg.NotFoundBudget)
	assert.Equal(t, AllocatorRemote, cfg.URLAllocator)
	assert.Equal(t, "aige", cfg.S3KeyPrefix)
	assert.Equal(t, time.Hour, cfg.S3PresignExpiry)
	assert.Empty(t, cfg.StorePath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{
		"AIGE_BASE_URL":         "https://aige.test",
		"PORT":                  "3000",
		"CORS_ORIGINS":          "https://a.test,https://b.test",
		"AIGE_HTTP_TIMEOUT":     "10s",
		"POLL_INTERVAL":         "2s",
		"POLL_TIMEOUT":          "90s",
		"NOT_FOUND_BUDGET":      "12",
		"URL_ALLOCATOR":         "s3",
		"S3_BUCKET":             "my-bucket",
		"S3_REGION":             "us-east-1",
		"S3_ENDPOINT":           "http://localhost:9000",
		"S3_KEY_PREFIX":         "test",
		"S3_PRESIGN_EXPIRY":     "15m",
		"AWS_ACCESS_KEY_ID":     "access-key",
		"AWS_SECRET_ACCESS_KEY": "secret-key",
		"STORE_PATH":            "/var/lib/aige/tasks.db",
		"LOG_FORMAT":            "json",
		"LOG_LEVEL":             "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.AIGEHTTPTimeout)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.PollTimeout)
	assert.Equal(t, 12, cfg.NotFoundBudget)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "http://localhost:9000", cfg.S3Endpoint)
	assert.Equal(t, "test", cfg.S3KeyPrefix)
	assert.Equal(t, 15*time.Minute, cfg.S3PresignExpiry)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "/var/lib/aige/tasks.db", cfg.StorePath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "PORT", "not-a-number"},
		{"poll interval", "POLL_INTERVAL", "soon"},
		{"budget", "NOT_FOUND_BUDGET", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// go-envconfig returns an error when parsing fails
			_, err := loadMap(t, map[string]string{
				"AIGE_BASE_URL": "https://aige.test",
				tt.key:          tt.val,
			})
			require.Error(t, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"remote allocator", Config{AIGEBaseURL: "u", URLAllocator: "remote"}, nil},
		{"s3 allocator", Config{AIGEBaseURL: "u", URLAllocator: "S3", S3Bucket: "b", S3Region: "r"}, nil},
		{"missing base URL", Config{URLAllocator: "remote"}, ErrBaseURLRequired},
		{"s3 without bucket", Config{AIGEBaseURL: "u", URLAllocator: "s3", S3Region: "r"}, ErrS3Incomplete},
		{"s3 without region", Config{AIGEBaseURL: "u", URLAllocator: "s3", S3Bucket: "b"}, ErrS3Incomplete},
		{"unknown allocator", Config{AIGEBaseURL: "u", URLAllocator: "gcs"}, ErrUnknownAllocator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		AIGEBaseURL:        "https://aige.test",
		URLAllocator:       "s3",
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSAccessKeyID:     "access-key",
		AWSSecretAccessKey: "secret-key",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "https://aige.test")
	assert.Contains(t, str, "bucket")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "access-key")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			cfg := &Config{LogFormat: format, LogLevel: "warn"}

			logger := cfg.NewLogger()
			require.NotNil(t, logger)
			assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
			assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
