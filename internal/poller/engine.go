package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/aige-pipeline/internal/task"
)

// Engine polls one task handle. It owns the handle's status from Start until
// it finishes; the handle is only mutated under the engine lock.
type Engine struct {
	checker  Checker
	handle   *task.Handle
	cfg      Config
	logger   *slog.Logger
	observer func(Update)

	mu       sync.Mutex
	started  bool
	finished bool
	err      error
	cancel   context.CancelFunc
	streak   int

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithObserver registers a callback for progress updates. It runs on the
// engine goroutine without the engine lock held, so it may call Stop or
// MarkNotFound.
func WithObserver(fn func(Update)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// New creates an engine for h. Zero config fields fall back to DefaultConfig.
func New(checker Checker, h *task.Handle, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		checker: checker,
		handle:  h,
		cfg:     cfg.withDefaults(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Handle returns the polled handle. Read it through Clone or GetStatus.
func (e *Engine) Handle() *task.Handle {
	return e.handle
}

// Start checks the task immediately and then every interval until a
// terminal state, the timeout, Stop, or cancellation of ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	if e.finished {
		e.mu.Unlock()
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Debug("polling started",
		slog.String("task_id", e.handle.TaskID),
		slog.String("stage", e.handle.Stage.String()),
		slog.Duration("interval", e.cfg.Interval),
		slog.Duration("timeout", e.cfg.Timeout),
	)

	go e.run(runCtx)
	return nil
}

// Stop halts polling. After Stop returns no in-flight response mutates the
// handle and no further check starts. Stop is idempotent and does not wait
// for the engine goroutine.
func (e *Engine) Stop() {
	e.mu.Lock()
	stopped := e.finishLocked(ErrStopped)
	e.mu.Unlock()
	if stopped {
		e.closeDone()
	}
}

// MarkNotFound forces the not_found terminal state.
func (e *Engine) MarkNotFound() {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	_ = e.handle.TransitionTo(task.StatusNotFound)
	e.finishLocked(ErrTaskNotFound)
	upd := e.updateLocked(0, "", "Task not found", ErrTaskNotFound, true)
	e.mu.Unlock()

	e.emit(upd)
	e.closeDone()
}

// Done is closed once the engine has finished and its final update, if any,
// was delivered.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns nil while running or after success, otherwise the reason the
// engine finished.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Wait blocks until the engine finishes or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type outcome struct {
	res Result
	err error
}

func (e *Engine) run(ctx context.Context) {
	deadline := time.NewTimer(e.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	// Buffered so a check finishing after the loop exits never blocks.
	results := make(chan outcome, 1)
	inFlight := false
	check := func() {
		inFlight = true
		go func() {
			res, err := e.checker.Check(ctx, e.handle.TaskID)
			results <- outcome{res: res, err: err}
		}()
	}

	check()
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			cancelled := e.finishLocked(fmt.Errorf("%w: %w", ErrStopped, ctx.Err()))
			e.mu.Unlock()
			if cancelled {
				e.closeDone()
			}
			return
		case <-deadline.C:
			e.timeout()
			return
		case <-ticker.C:
			if !inFlight {
				check()
			}
		case out := <-results:
			inFlight = false
			if e.apply(out) {
				return
			}
		}
	}
}

// apply records one check outcome and reports whether polling is over.
func (e *Engine) apply(out outcome) bool {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return true
	}

	attempt := e.handle.RecordAttempt()
	var upd Update

	switch {
	case out.err != nil:
		e.streak = 0
		perr := &TransientPollError{TaskID: e.handle.TaskID, Err: out.err}
		upd = e.updateLocked(attempt, "", perr.Error(), perr, false)

	case out.res.Class == ClassNotFound:
		e.streak++
		upd = e.updateLocked(attempt, out.res.RemoteStatus, MessageStillProcessing, nil, false)

	case out.res.Class == ClassDone:
		e.streak = 0
		if out.res.Output != "" {
			e.handle.SetOutput(out.res.Output)
		}
		if out.res.ReadURL != "" {
			e.handle.SetReadURL(out.res.ReadURL)
		}
		_ = e.handle.TransitionTo(task.StatusDone)
		e.finishLocked(nil)
		upd = e.updateLocked(attempt, out.res.RemoteStatus, "Done", nil, true)

	case out.res.Class == ClassError:
		e.streak = 0
		e.handle.SetLastError(out.res.Payload)
		_ = e.handle.TransitionTo(task.StatusError)
		rerr := &RemoteTaskError{TaskID: e.handle.TaskID, Status: out.res.RemoteStatus, Payload: out.res.Payload}
		e.finishLocked(rerr)
		upd = e.updateLocked(attempt, out.res.RemoteStatus, rerr.Error(), rerr, true)

	default:
		e.streak = 0
		_ = e.handle.TransitionTo(task.StatusProcessing)
		upd = e.updateLocked(attempt, out.res.RemoteStatus, out.res.RemoteStatus, nil, false)
	}
	e.mu.Unlock()

	e.emit(upd)
	if upd.Terminal {
		e.closeDone()
	}
	return upd.Terminal
}

func (e *Engine) timeout() {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	_ = e.handle.TransitionTo(task.StatusTimedOut)
	terr := &TimeoutError{TaskID: e.handle.TaskID, After: e.cfg.Timeout}
	e.finishLocked(terr)
	upd := e.updateLocked(0, "", terr.Error(), terr, true)
	e.mu.Unlock()

	e.emit(upd)
	e.closeDone()
}

// finishLocked must be called with e.mu held. It reports whether this call
// finished the engine; the caller then closes done once the final update
// was emitted.
func (e *Engine) finishLocked(err error) bool {
	if e.finished {
		return false
	}
	e.finished = true
	e.err = err
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

func (e *Engine) closeDone() {
	e.closeOnce.Do(func() { close(e.done) })
}

// updateLocked must be called with e.mu held.
func (e *Engine) updateLocked(attempt int, remote, msg string, err error, terminal bool) Update {
	if attempt == 0 {
		attempt = e.handle.Clone().PollAttempts
	}
	return Update{
		TaskID:         e.handle.TaskID,
		Stage:          e.handle.Stage,
		Status:         e.handle.GetStatus(),
		RemoteStatus:   remote,
		Message:        msg,
		Attempt:        attempt,
		NotFoundStreak: e.streak,
		Err:            err,
		Terminal:       terminal,
	}
}

func (e *Engine) emit(upd Update) {
	level := slog.LevelDebug
	if upd.Terminal {
		level = slog.LevelInfo
	}
	e.logger.Log(context.Background(), level, "task status",
		slog.String("task_id", upd.TaskID),
		slog.String("stage", upd.Stage.String()),
		slog.String("status", string(upd.Status)),
		slog.String("remote_status", upd.RemoteStatus),
		slog.Int("attempt", upd.Attempt),
	)

	if e.observer != nil {
		e.observer(upd)
	}
}
