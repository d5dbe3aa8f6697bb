package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/aige-pipeline/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		AIGEBaseURL:     "https://aige.test",
		AIGEHTTPTimeout: 5 * time.Second,
		PollInterval:    time.Second,
		PollTimeout:     time.Minute,
		URLAllocator:    config.AllocatorRemote,
	}
}

func TestNewDependencies_Defaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := NewDependencies(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NotNil(t, deps.Pipeline)
	require.NotNil(t, deps.Metrics)
	assert.Empty(t, deps.closers)
}

func TestNewDependencies_SQLiteAndS3(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.StorePath = filepath.Join(t.TempDir(), "tasks.db")
	cfg.URLAllocator = config.AllocatorS3
	cfg.S3Bucket = "bucket"
	cfg.S3Region = "us-east-1"
	cfg.AWSAccessKeyID = "key"
	cfg.AWSSecretAccessKey = "secret"

	deps, err := NewDependencies(context.Background(), cfg, logger)
	require.NoError(t, err)

	assert.Len(t, deps.closers, 1)
	assert.NoError(t, deps.Close())
}

func TestNewDependencies_MissingBaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.AIGEBaseURL = ""

	_, err := NewDependencies(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
