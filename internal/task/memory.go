package task

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*Handle
}

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks: make(map[string]*Handle),
	}
}

// Save stores a clone to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, h *Handle) error {
	c := h.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[c.TaskID] = c
	return nil
}

// FindByID returns a clone of the stored handle.
func (r *MemoryRepository) FindByID(_ context.Context, taskID string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return h.Clone(), nil
}

// ListByAvatar returns clones ordered by creation time.
func (r *MemoryRepository) ListByAvatar(_ context.Context, avatarID string) ([]*Handle, error) {
	r.mu.RLock()
	result := make([]*Handle, 0)
	for _, h := range r.tasks {
		if h.AvatarID == avatarID {
			result = append(result, h.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes a handle.
func (r *MemoryRepository) Delete(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, taskID)
	return nil
}
