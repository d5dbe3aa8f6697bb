// Package server provides the HTTP API for driving AIGE pipeline runs.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"github.com/maauso/aige-pipeline/internal/pipeline"
	"github.com/maauso/aige-pipeline/internal/task"
)

// CreateRunResponse is the HTTP response after starting a run.
type CreateRunResponse struct {
	// AvatarID identifies the run in every later request.
	AvatarID string `json:"avatar_id"`
}

// RunResponse is the HTTP response for getting a run.
type RunResponse = pipeline.Snapshot

// StageResponse is the HTTP response for getting one stage of a run.
type StageResponse = pipeline.StageState

// SubmitStageResponse is the HTTP response after a stage was submitted.
type SubmitStageResponse struct {
	AvatarID string `json:"avatar_id"`
	Stage    string `json:"stage"`
	// TaskID is the AIGE task now being polled.
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	// ReadURL is where the artifact will be readable once the task is done.
	ReadURL string `json:"read_url,omitempty"`
}

// TaskResponse is the HTTP response for getting a task.
type TaskResponse = task.Handle

// RunTasksResponse is the HTTP response for listing the persisted tasks of a run.
type RunTasksResponse struct {
	AvatarID string          `json:"avatar_id"`
	Tasks    []*TaskResponse `json:"tasks"`
}

// PurgeTasksResponse is the HTTP response after deleting the persisted tasks of a run.
type PurgeTasksResponse struct {
	AvatarID string `json:"avatar_id"`
	Deleted  int    `json:"deleted"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Missing lists the stages that must finish first, for DEPENDENCY_NOT_READY.
	Missing []string `json:"missing,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Runs is the number of registered runs.
	Runs int `json:"runs"`
}
