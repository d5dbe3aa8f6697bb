// Package pipeline sequences the stages of an AIGE run. A run owns the
// artifacts its stages produced and at most one polling engine per stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maauso/aige-pipeline/internal/pipeline/id"
	"github.com/maauso/aige-pipeline/internal/poller"
	"github.com/maauso/aige-pipeline/internal/presign"
	"github.com/maauso/aige-pipeline/internal/stage"
	"github.com/maauso/aige-pipeline/internal/task"
)

// Static errors for pipeline operations.
var (
	// ErrRunNotFound is returned when no run exists for an avatar id.
	ErrRunNotFound = errors.New("pipeline: run not found")
	// ErrRunClosed is returned when a run was torn down.
	ErrRunClosed = errors.New("pipeline: run closed")
	// ErrInvalidAvatarID is returned for an avatar id this service could not have minted.
	ErrInvalidAvatarID = errors.New("pipeline: invalid avatar id")
	// ErrRunActive is returned when persisted tasks of a registered run are purged.
	ErrRunActive = errors.New("pipeline: run still registered")
)

// DependencyNotReadyError is returned when a stage is started before the
// artifacts it consumes exist.
type DependencyNotReadyError struct {
	Stage   stage.Kind
	Missing []stage.Kind
}

func (e *DependencyNotReadyError) Error() string {
	names := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		names[i] = k.String()
	}
	return fmt.Sprintf("pipeline: %s needs %s first", e.Stage, strings.Join(names, ", "))
}

// Submitter is the submission side of the gateway.
type Submitter interface {
	Submit(ctx context.Context, kind stage.Kind, params stage.Params, pair presign.URLPair, avatarID string) (*task.Handle, error)
	Checker(kind stage.Kind) poller.Checker
}

// Recorder receives pipeline measurements.
type Recorder interface {
	StatusChecked(kind stage.Kind, outcome string)
	TaskFinished(kind stage.Kind, status task.Status, elapsed time.Duration)
}

// Pipeline holds the shared dependencies and the registry of runs.
type Pipeline struct {
	allocator      presign.Allocator
	submitter      Submitter
	repo           task.Repository
	logger         *slog.Logger
	pollCfg        poller.Config
	notFoundBudget int
	recorder       Recorder
	observer       func(avatarID string, u poller.Update)

	mu   sync.Mutex
	runs map[string]*Run
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithPollConfig sets the polling cadence for every engine.
func WithPollConfig(cfg poller.Config) Option {
	return func(p *Pipeline) {
		p.pollCfg = cfg
	}
}

// WithNotFoundBudget gives up on a task after n consecutive not-found
// signals. Zero keeps polling until the timeout.
func WithNotFoundBudget(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.notFoundBudget = n
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithObserver registers a callback for every engine update of every run.
func WithObserver(fn func(avatarID string, u poller.Update)) Option {
	return func(p *Pipeline) {
		p.observer = fn
	}
}

// New creates a Pipeline.
func New(allocator presign.Allocator, submitter Submitter, repo task.Repository, opts ...Option) *Pipeline {
	p := &Pipeline{
		allocator: allocator,
		submitter: submitter,
		repo:      repo,
		pollCfg:   poller.DefaultConfig(),
		runs:      make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.repo == nil {
		p.repo = task.NewMemoryRepository()
	}
	return p
}

// StartRun mints a fresh avatar id and registers an empty run for it.
func (p *Pipeline) StartRun() *Run {
	r := newRun(p, id.NewAvatarID())

	p.mu.Lock()
	p.runs[r.avatarID] = r
	p.mu.Unlock()

	p.logger.Info("run started", slog.String("avatar_id", r.avatarID))
	return r
}

// Run returns the registered run for avatarID.
func (p *Pipeline) Run(avatarID string) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.runs[avatarID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

// Runs returns every registered run.
func (p *Pipeline) Runs() []*Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Run, 0, len(p.runs))
	for _, r := range p.runs {
		out = append(out, r)
	}
	return out
}

// Teardown stops every engine of a run and forgets it.
func (p *Pipeline) Teardown(avatarID string) error {
	p.mu.Lock()
	r, ok := p.runs[avatarID]
	delete(p.runs, avatarID)
	p.mu.Unlock()

	if !ok {
		return ErrRunNotFound
	}
	return r.Teardown()
}

// Shutdown tears down every run.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	runs := p.runs
	p.runs = make(map[string]*Run)
	p.mu.Unlock()

	for _, r := range runs {
		_ = r.Teardown()
	}
}

// Task returns a persisted task handle.
func (p *Pipeline) Task(ctx context.Context, taskID string) (*task.Handle, error) {
	return p.repo.FindByID(ctx, taskID)
}

// Tasks returns every persisted task of a run, oldest first. Tasks outlive
// their run when the store is durable.
func (p *Pipeline) Tasks(ctx context.Context, avatarID string) ([]*task.Handle, error) {
	if !id.Valid(avatarID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAvatarID, avatarID)
	}
	return p.repo.ListByAvatar(ctx, avatarID)
}

// PurgeTasks deletes the persisted tasks of a torn-down run and returns how
// many were removed. A registered run would keep saving its handles, so it
// fails with ErrRunActive.
func (p *Pipeline) PurgeTasks(ctx context.Context, avatarID string) (int, error) {
	if !id.Valid(avatarID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAvatarID, avatarID)
	}
	p.mu.Lock()
	_, registered := p.runs[avatarID]
	p.mu.Unlock()
	if registered {
		return 0, ErrRunActive
	}

	handles, err := p.repo.ListByAvatar(ctx, avatarID)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}
	deleted := 0
	for _, h := range handles {
		err := p.repo.Delete(ctx, h.TaskID)
		if err != nil && !errors.Is(err, task.ErrTaskNotFound) {
			return deleted, fmt.Errorf("delete task %s: %w", h.TaskID, err)
		}
		if err == nil {
			deleted++
		}
	}

	p.logger.Info("run tasks purged",
		slog.String("avatar_id", avatarID),
		slog.Int("deleted", deleted),
	)
	return deleted, nil
}

func (p *Pipeline) persist(h *task.Handle) {
	if err := p.repo.Save(context.Background(), h); err != nil {
		p.logger.Error("failed to save task",
			slog.String("task_id", h.TaskID),
			slog.String("error", err.Error()),
		)
	}
}
