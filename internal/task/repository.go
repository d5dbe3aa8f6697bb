package task

import (
	"context"
	"errors"
)

// ErrTaskNotFound is returned when a task cannot be found by ID.
var ErrTaskNotFound = errors.New("task: not found")

// Repository defines the interface for task persistence.
type Repository interface {
	// Save persists a handle snapshot. Existing entries are replaced.
	Save(ctx context.Context, h *Handle) error

	// FindByID retrieves a handle by task ID.
	// Returns ErrTaskNotFound if the task does not exist.
	FindByID(ctx context.Context, taskID string) (*Handle, error)

	// ListByAvatar returns every handle of a run ordered by creation time.
	ListByAvatar(ctx context.Context, avatarID string) ([]*Handle, error)

	// Delete removes a handle.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, taskID string) error
}
