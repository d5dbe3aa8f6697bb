package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maauso/aige-pipeline/internal/gateway"
	"github.com/maauso/aige-pipeline/internal/pipeline"
	"github.com/maauso/aige-pipeline/internal/poller"
	"github.com/maauso/aige-pipeline/internal/presign"
	"github.com/maauso/aige-pipeline/internal/stage"
	"github.com/maauso/aige-pipeline/internal/task"
)

// maxBodyBytes bounds a stage request body.
const maxBodyBytes = 1 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(p *pipeline.Pipeline, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		pipeline: p,
		logger:   logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Runs: len(h.pipeline.Runs())})
}

// CreateRun handles POST /runs requests.
func (h *Handlers) CreateRun(w http.ResponseWriter, _ *http.Request) {
	run := h.pipeline.StartRun()
	writeJSON(w, http.StatusCreated, CreateRunResponse{AvatarID: run.AvatarID()})
}

// GetRun handles GET /runs/{avatarID} requests.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	var resp RunResponse = run.Snapshot()
	writeJSON(w, http.StatusOK, resp)
}

// DeleteRun handles DELETE /runs/{avatarID} requests. Every engine of the run
// is stopped before the response is written.
func (h *Handlers) DeleteRun(w http.ResponseWriter, r *http.Request) {
	avatarID := chi.URLParam(r, "avatarID")
	if err := h.pipeline.Teardown(avatarID); err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) || errors.Is(err, pipeline.ErrRunClosed) {
			writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitStage handles POST /runs/{avatarID}/stages/{stage} requests.
// URLs are allocated and the task submitted before responding; polling
// continues in the background after the response.
func (h *Handlers) SubmitStage(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseStage(w, r)
	if !ok {
		return
	}
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "INVALID_JSON")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		h.logger.Warn("failed to decode request body", slog.String("stage", kind.String()))
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	params, err := stage.Decode(kind, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	// Polling outlives the request, so detach from its cancellation.
	sr, err := run.StartStage(context.WithoutCancel(r.Context()), kind, params)
	if err != nil {
		h.writeStageError(w, run.AvatarID(), kind, err)
		return
	}

	h.logger.Info("stage accepted",
		slog.String("avatar_id", run.AvatarID()),
		slog.String("stage", kind.String()),
		slog.String("task_id", sr.TaskID()),
	)

	snap := sr.Handle.Clone()
	writeJSON(w, http.StatusAccepted, SubmitStageResponse{
		AvatarID: run.AvatarID(),
		Stage:    kind.String(),
		TaskID:   snap.TaskID,
		Status:   string(snap.Status),
		ReadURL:  snap.ReadURL,
	})
}

// GetStage handles GET /runs/{avatarID}/stages/{stage} requests.
func (h *Handlers) GetStage(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseStage(w, r)
	if !ok {
		return
	}
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}

	st, found := run.Stage(kind)
	if !found {
		writeError(w, http.StatusNotFound, "stage not submitted", "STAGE_NOT_FOUND")
		return
	}
	var resp StageResponse = st
	writeJSON(w, http.StatusOK, resp)
}

// GetTask handles GET /tasks/{taskID} requests.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	t, err := h.pipeline.Task(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get task",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get task", "TASK_FETCH_FAILED")
		return
	}
	var resp *TaskResponse = t
	writeJSON(w, http.StatusOK, resp)
}

// ListRunTasks handles GET /runs/{avatarID}/tasks requests. Persisted tasks
// are listed even after the run was deleted.
func (h *Handlers) ListRunTasks(w http.ResponseWriter, r *http.Request) {
	avatarID := chi.URLParam(r, "avatarID")

	tasks, err := h.pipeline.Tasks(r.Context(), avatarID)
	if err != nil {
		h.writeTasksError(w, avatarID, err)
		return
	}
	writeJSON(w, http.StatusOK, RunTasksResponse{AvatarID: avatarID, Tasks: tasks})
}

// PurgeRunTasks handles DELETE /runs/{avatarID}/tasks requests. The run must
// have been deleted first.
func (h *Handlers) PurgeRunTasks(w http.ResponseWriter, r *http.Request) {
	avatarID := chi.URLParam(r, "avatarID")

	n, err := h.pipeline.PurgeTasks(r.Context(), avatarID)
	if err != nil {
		h.writeTasksError(w, avatarID, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeTasksResponse{AvatarID: avatarID, Deleted: n})
}

func (h *Handlers) writeTasksError(w http.ResponseWriter, avatarID string, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidAvatarID):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_AVATAR_ID")
	case errors.Is(err, pipeline.ErrRunActive):
		writeError(w, http.StatusConflict, "delete the run first", "RUN_ACTIVE")
	default:
		h.logger.Error("failed to access run tasks",
			slog.String("avatar_id", avatarID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to access tasks", "TASK_FETCH_FAILED")
	}
}

func (h *Handlers) lookupRun(w http.ResponseWriter, r *http.Request) (*pipeline.Run, bool) {
	run, err := h.pipeline.Run(chi.URLParam(r, "avatarID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
		return nil, false
	}
	return run, true
}

func parseStage(w http.ResponseWriter, r *http.Request) (stage.Kind, bool) {
	kind, err := stage.ParseKind(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "UNKNOWN_STAGE")
		return "", false
	}
	return kind, true
}

func (h *Handlers) writeStageError(w http.ResponseWriter, avatarID string, kind stage.Kind, err error) {
	var (
		depErr   *pipeline.DependencyNotReadyError
		allocErr *presign.AllocationError
		subErr   *gateway.SubmissionError
	)

	switch {
	case errors.As(err, &depErr):
		missing := make([]string, len(depErr.Missing))
		for i, k := range depErr.Missing {
			missing[i] = k.String()
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Code:    "DEPENDENCY_NOT_READY",
			Missing: missing,
		})
		return
	case errors.Is(err, stage.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	case errors.Is(err, pipeline.ErrRunClosed):
		writeError(w, http.StatusConflict, "run closed", "RUN_CLOSED")
		return
	case errors.Is(err, poller.ErrStopped):
		writeError(w, http.StatusConflict, err.Error(), "SUPERSEDED")
		return
	}

	h.logger.Error("stage submission failed",
		slog.String("avatar_id", avatarID),
		slog.String("stage", kind.String()),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.As(err, &allocErr):
		writeError(w, http.StatusBadGateway, err.Error(), "ALLOCATION_FAILED")
	case errors.As(err, &subErr):
		writeError(w, http.StatusBadGateway, err.Error(), "SUBMISSION_FAILED")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
