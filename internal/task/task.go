// Package task provides the Handle aggregate that tracks one remote AIGE
// task from submission to a terminal state, and repositories to persist it.
package task

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/maauso/aige-pipeline/internal/stage"
)

// Status represents the local state of a remote task.
type Status string

const (
	// StatusPending indicates the task was accepted but not yet observed running.
	StatusPending Status = "pending"
	// StatusProcessing indicates the service reported a non-terminal status.
	StatusProcessing Status = "processing"
	// StatusDone indicates the task finished and its artifact is readable.
	StatusDone Status = "done"
	// StatusError indicates the service reported a failure.
	StatusError Status = "error"
	// StatusNotFound indicates the caller gave up on a task the service does not know.
	StatusNotFound Status = "not_found"
	// StatusTimedOut indicates polling hit its deadline.
	StatusTimedOut Status = "timed_out"
)

// IsTerminal returns true if no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusNotFound, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("task: invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusDone, StatusError, StatusNotFound, StatusTimedOut},
	StatusProcessing: {StatusDone, StatusError, StatusNotFound, StatusTimedOut},
	StatusDone:       {},
	StatusError:      {},
	StatusNotFound:   {},
	StatusTimedOut:   {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Handle tracks one submitted remote task.
type Handle struct {
	mu sync.RWMutex

	// TaskID is the service-assigned task identifier.
	TaskID string `json:"task_id"`
	// AvatarID is the run the task belongs to.
	AvatarID string `json:"avatar_id"`
	// Stage is the pipeline stage that produced the task.
	Stage stage.Kind `json:"stage"`
	// Status is the current local state.
	Status Status `json:"status"`
	// ReadURL is where the artifact can be read once the task is done.
	ReadURL string `json:"read_url,omitempty"`
	// Output is stage-specific output, such as a finetune model id.
	Output string `json:"output,omitempty"`
	// PollAttempts counts completed status checks.
	PollAttempts int `json:"poll_attempts"`
	// LastError is the raw service payload of a failed task.
	LastError json.RawMessage `json:"last_error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// NewHandle creates a pending handle.
func NewHandle(taskID, avatarID string, kind stage.Kind, readURL string) *Handle {
	now := time.Now()
	return &Handle{
		TaskID:    taskID,
		AvatarID:  avatarID,
		Stage:     kind,
		Status:    StatusPending,
		ReadURL:   readURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the handle status.
// Transitioning to the current non-terminal status is a no-op.
func (h *Handle) TransitionTo(status Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Status == status && !status.IsTerminal() {
		return nil
	}
	if !canTransition(h.Status, status) {
		return ErrInvalidTransition
	}

	h.Status = status
	h.UpdatedAt = time.Now()
	if status.IsTerminal() {
		h.CompletedAt = h.UpdatedAt
	}
	return nil
}

// RecordAttempt increments the poll attempt counter and returns the new count.
func (h *Handle) RecordAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PollAttempts++
	h.UpdatedAt = time.Now()
	return h.PollAttempts
}

// SetLastError stores the raw failure payload.
func (h *Handle) SetLastError(payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastError = append(json.RawMessage(nil), payload...)
	h.UpdatedAt = time.Now()
}

// SetOutput stores stage-specific output.
func (h *Handle) SetOutput(output string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Output = output
	h.UpdatedAt = time.Now()
}

// SetReadURL replaces the artifact location, for stages whose output is
// hosted by the service rather than at a presigned URL.
func (h *Handle) SetReadURL(readURL string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ReadURL = readURL
	h.UpdatedAt = time.Now()
}

// GetStatus returns the current status (thread-safe).
func (h *Handle) GetStatus() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Status
}

// IsTerminal returns true if the handle is in a terminal state.
func (h *Handle) IsTerminal() bool {
	return h.GetStatus().IsTerminal()
}

// Clone creates a deep copy of the handle for safe reads.
func (h *Handle) Clone() *Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var lastErr json.RawMessage
	if h.LastError != nil {
		lastErr = append(json.RawMessage(nil), h.LastError...)
	}

	return &Handle{
		TaskID:       h.TaskID,
		AvatarID:     h.AvatarID,
		Stage:        h.Stage,
		Status:       h.Status,
		ReadURL:      h.ReadURL,
		Output:       h.Output,
		PollAttempts: h.PollAttempts,
		LastError:    lastErr,
		CreatedAt:    h.CreatedAt,
		UpdatedAt:    h.UpdatedAt,
		CompletedAt:  h.CompletedAt,
	}
}
