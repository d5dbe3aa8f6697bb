// Package poller drives one remote task to a terminal state by checking its
// status on a fixed interval until it finishes, fails or times out.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/aige-pipeline/internal/stage"
	"github.com/maauso/aige-pipeline/internal/task"
)

// Static errors for polling.
var (
	// ErrStopped is the result of an engine stopped before reaching a terminal state.
	ErrStopped = errors.New("poller: stopped")
	// ErrTaskNotFound is the result of an engine whose caller gave up on an unknown task.
	ErrTaskNotFound = errors.New("poller: task not found")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("poller: already started")
)

// Messages reported to observers.
const (
	MessageStillProcessing = "Still processing..."
	MessageFetchFailed     = "Error fetching status"
)

// Class is the engine's view of a remote status.
type Class string

const (
	// ClassTransient means the task is still running.
	ClassTransient Class = "transient"
	// ClassDone means the task finished successfully.
	ClassDone Class = "done"
	// ClassError means the task failed remotely.
	ClassError Class = "error"
	// ClassNotFound means the service does not (yet) know the task.
	ClassNotFound Class = "not_found"
)

// Result is the outcome of one status check.
type Result struct {
	Class Class
	// RemoteStatus is the status string as reported by the service.
	RemoteStatus string
	// Output is stage-specific output carried by a done result.
	Output string
	// ReadURL, when set on a done result, replaces the handle's read URL.
	ReadURL string
	// Payload is the raw response, kept as the handle's last error on failure.
	Payload json.RawMessage
}

// Checker performs one status check for a task.
type Checker interface {
	Check(ctx context.Context, taskID string) (Result, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, taskID string) (Result, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, taskID string) (Result, error) {
	return f(ctx, taskID)
}

// Config controls polling cadence. It is set per deployment.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig polls every 5 seconds for at most 5 minutes.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Update is a progress event for presentation.
type Update struct {
	TaskID       string      `json:"task_id"`
	Stage        stage.Kind  `json:"stage"`
	Status       task.Status `json:"status"`
	RemoteStatus string      `json:"remote_status,omitempty"`
	Message      string      `json:"message"`
	Attempt      int         `json:"attempt"`
	// NotFoundStreak counts consecutive not-found signals, including this one.
	NotFoundStreak int `json:"not_found_streak,omitempty"`
	// Err is set for failed checks and terminal failures.
	Err error `json:"-"`
	// Terminal is true for the engine's final update.
	Terminal bool `json:"terminal"`
}

// TransientPollError is a failed status check. Polling continues.
type TransientPollError struct {
	TaskID string
	Err    error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("%s: %v", MessageFetchFailed, e.Err)
}

func (e *TransientPollError) Unwrap() error {
	return e.Err
}

// RemoteTaskError is a task the service reported as failed.
type RemoteTaskError struct {
	TaskID  string
	Status  string
	Payload json.RawMessage
}

func (e *RemoteTaskError) Error() string {
	return fmt.Sprintf("poller: task %s failed with status %q", e.TaskID, e.Status)
}

// TimeoutError is a task that did not finish within the polling timeout.
type TimeoutError struct {
	TaskID string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poller: task %s timed out after %s", e.TaskID, e.After)
}
