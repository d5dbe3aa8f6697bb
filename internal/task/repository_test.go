package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/maauso/aige-pipeline/internal/stage"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()

	sqlite, err := NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": sqlite,
	}
}

func TestRepository_SaveAndFind(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := NewHandle("task-1", "av-1", stage.KindOverlay, "https://r/o.png")

			if err := repo.Save(ctx, h); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_ = h.TransitionTo(StatusError)
			h.RecordAttempt()
			h.SetLastError(json.RawMessage(`{"status":"error"}`))
			if err := repo.Save(ctx, h); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			saved, err := repo.FindByID(ctx, "task-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if saved.Status != StatusError {
				t.Errorf("expected status %s, got %s", StatusError, saved.Status)
			}
			if saved.Stage != stage.KindOverlay {
				t.Errorf("expected stage overlay, got %s", saved.Stage)
			}
			if saved.PollAttempts != 1 {
				t.Errorf("expected 1 attempt, got %d", saved.PollAttempts)
			}
			if string(saved.LastError) != `{"status":"error"}` {
				t.Errorf("unexpected last error %s", saved.LastError)
			}
			if saved.CompletedAt.IsZero() {
				t.Error("expected CompletedAt to be set")
			}
		})
	}
}

func TestRepository_FindMissing(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.FindByID(context.Background(), "missing")
			if !errors.Is(err, ErrTaskNotFound) {
				t.Errorf("expected ErrTaskNotFound, got %v", err)
			}
		})
	}
}

func TestRepository_ListByAvatar(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now()

			for i, kind := range []stage.Kind{stage.KindAvatar, stage.KindBackground, stage.KindOverlay} {
				h := NewHandle(kind.String()+"-task", "av-1", kind, "")
				h.CreatedAt = base.Add(time.Duration(i) * time.Second)
				_ = repo.Save(ctx, h)
			}
			_ = repo.Save(ctx, NewHandle("other", "av-2", stage.KindAvatar, ""))

			list, err := repo.ListByAvatar(ctx, "av-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("expected 3 handles, got %d", len(list))
			}
			if list[0].Stage != stage.KindAvatar || list[2].Stage != stage.KindOverlay {
				t.Errorf("unexpected order: %s, %s", list[0].Stage, list[2].Stage)
			}
		})
	}
}

func TestRepository_Delete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = repo.Save(ctx, NewHandle("task-1", "av-1", stage.KindAvatar, ""))

			if err := repo.Delete(ctx, "task-1"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := repo.Delete(ctx, "task-1"); !errors.Is(err, ErrTaskNotFound) {
				t.Errorf("expected ErrTaskNotFound, got %v", err)
			}
		})
	}
}
