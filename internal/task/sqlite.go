package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/aige-pipeline/internal/stage"

	_ "modernc.org/sqlite"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id       TEXT PRIMARY KEY,
    avatar_id     TEXT NOT NULL,
    stage         TEXT NOT NULL,
    status        TEXT NOT NULL,
    read_url      TEXT NOT NULL,
    output        TEXT NOT NULL,
    poll_attempts INTEGER NOT NULL,
    last_error    BLOB,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    completed_at  INTEGER NOT NULL
)`

const createTasksAvatarIndex = `CREATE INDEX IF NOT EXISTS idx_tasks_avatar ON tasks (avatar_id, created_at)`

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository persists handles in a SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the SQLite database at dbPath and runs migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("task: open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createTasksTable,
		createTasksAvatarIndex,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("task: migrate: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Save upserts a handle snapshot.
func (r *SQLiteRepository) Save(ctx context.Context, h *Handle) error {
	c := h.Clone()
	var lastErr []byte
	if c.LastError != nil {
		lastErr = c.LastError
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (
			task_id, avatar_id, stage, status, read_url, output,
			poll_attempts, last_error, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			read_url = excluded.read_url,
			output = excluded.output,
			poll_attempts = excluded.poll_attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		c.TaskID, c.AvatarID, string(c.Stage), string(c.Status), c.ReadURL, c.Output,
		c.PollAttempts, lastErr, toUnix(c.CreatedAt), toUnix(c.UpdatedAt), toUnix(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("task: save %s: %w", c.TaskID, err)
	}
	return nil
}

// FindByID retrieves a handle by task ID.
func (r *SQLiteRepository) FindByID(ctx context.Context, taskID string) (*Handle, error) {
	row := r.db.QueryRowContext(ctx, selectTasks+` WHERE task_id = ?`, taskID)
	h, err := scanHandle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task: find %s: %w", taskID, err)
	}
	return h, nil
}

// ListByAvatar returns every handle of a run ordered by creation time.
func (r *SQLiteRepository) ListByAvatar(ctx context.Context, avatarID string) ([]*Handle, error) {
	rows, err := r.db.QueryContext(ctx, selectTasks+` WHERE avatar_id = ? ORDER BY created_at ASC`, avatarID)
	if err != nil {
		return nil, fmt.Errorf("task: list %s: %w", avatarID, err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Handle, 0)
	for rows.Next() {
		h, err := scanHandle(rows)
		if err != nil {
			return nil, fmt.Errorf("task: scan: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: list %s: %w", avatarID, err)
	}
	return result, nil
}

// Delete removes a handle.
func (r *SQLiteRepository) Delete(ctx context.Context, taskID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("task: delete %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task: delete %s: %w", taskID, err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

const selectTasks = `SELECT task_id, avatar_id, stage, status, read_url, output,
	poll_attempts, last_error, created_at, updated_at, completed_at FROM tasks`

type scanner interface {
	Scan(dest ...any) error
}

func scanHandle(s scanner) (*Handle, error) {
	var (
		h                           Handle
		kind, status                string
		lastErr                     []byte
		created, updated, completed int64
	)
	if err := s.Scan(
		&h.TaskID, &h.AvatarID, &kind, &status, &h.ReadURL, &h.Output,
		&h.PollAttempts, &lastErr, &created, &updated, &completed,
	); err != nil {
		return nil, err
	}
	h.Stage = stage.Kind(kind)
	h.Status = Status(status)
	if len(lastErr) > 0 {
		h.LastError = lastErr
	}
	h.CreatedAt = fromUnix(created)
	h.UpdatedAt = fromUnix(updated)
	h.CompletedAt = fromUnix(completed)
	return &h, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
