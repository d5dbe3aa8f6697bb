// Package bootstrap provides dependency initialization for the AIGE pipeline server.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maauso/aige-pipeline/internal/aige"
	"github.com/maauso/aige-pipeline/internal/config"
	"github.com/maauso/aige-pipeline/internal/gateway"
	"github.com/maauso/aige-pipeline/internal/metrics"
	"github.com/maauso/aige-pipeline/internal/pipeline"
	"github.com/maauso/aige-pipeline/internal/poller"
	"github.com/maauso/aige-pipeline/internal/presign"
	"github.com/maauso/aige-pipeline/internal/task"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize AIGE client
	client, err := aige.NewClient(cfg.AIGEBaseURL, aige.WithTimeout(cfg.AIGEHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("create AIGE client: %w", err)
	}

	allocator, err := initAllocator(ctx, cfg, client, logger)
	if err != nil {
		return nil, err
	}

	repo, err := deps.initRepository(cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(reg)

	deps.Pipeline = pipeline.New(
		allocator,
		gateway.New(client, gateway.WithLogger(logger)),
		repo,
		pipeline.WithLogger(logger),
		pipeline.WithPollConfig(poller.Config{
			Interval: cfg.PollInterval,
			Timeout:  cfg.PollTimeout,
		}),
		pipeline.WithNotFoundBudget(cfg.NotFoundBudget),
		pipeline.WithRecorder(deps.Metrics),
	)

	return deps, nil
}

// Close stops every run and releases the task store.
func (d *Dependencies) Close() error {
	if d.Pipeline != nil {
		d.Pipeline.Shutdown()
	}
	var firstErr error
	for _, c := range d.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// initAllocator creates the presigned URL allocator based on configuration.
func initAllocator(ctx context.Context, cfg *config.Config, client *aige.HTTPClient, logger *slog.Logger) (presign.Allocator, error) {
	if cfg.S3Enabled() {
		s3Alloc, err := presign.NewS3Allocator(ctx, presign.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			KeyPrefix:       cfg.S3KeyPrefix,
			Expiry:          cfg.S3PresignExpiry,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 allocator: %w", err)
		}
		logger.Info("S3 URL allocator configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Alloc, nil
	}

	logger.Info("remote URL allocator configured",
		slog.String("base_url", cfg.AIGEBaseURL),
	)
	return presign.NewRemoteAllocator(client), nil
}

// initRepository creates the task store based on configuration.
func (d *Dependencies) initRepository(cfg *config.Config, logger *slog.Logger) (task.Repository, error) {
	if cfg.StorePath == "" {
		logger.Info("in-memory task store configured")
		return task.NewMemoryRepository(), nil
	}

	repo, err := task.NewSQLiteRepository(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("create task store: %w", err)
	}
	d.closers = append(d.closers, repo.Close)
	logger.Info("sqlite task store configured",
		slog.String("path", cfg.StorePath),
	)
	return repo, nil
}
