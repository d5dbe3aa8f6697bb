// Package aige provides an HTTP client for the AIGE generation service.
package aige

import (
	"encoding/json"
	"strings"
)

// Status is a task status as reported by the service. The vocabulary is
// open: stages report progress as values like "processing_overlay" or
// "uploading_video".
type Status string

// Well-known statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "error"
	StatusNotFound   Status = "not_found"
)

// IsDone returns true if the status reports success.
func (s Status) IsDone() bool {
	switch s.normalized() {
	case "done", "completed", "complete", "succeeded", "success":
		return true
	default:
		return false
	}
}

// IsError returns true if the status reports a failed task.
func (s Status) IsError() bool {
	switch s.normalized() {
	case "error", "failed", "failure", "cancelled", "canceled":
		return true
	default:
		return false
	}
}

// IsNotFound returns true if the service does not know the task.
func (s Status) IsNotFound() bool {
	return s.normalized() == string(StatusNotFound)
}

func (s Status) normalized() string {
	return strings.ToLower(strings.TrimSpace(string(s)))
}

// SubmitResponse is returned by the create and update-in-place endpoints.
type SubmitResponse struct {
	TaskID   string `json:"aige_task_id"`
	AvatarID string `json:"avatar_id"`
	Status   Status `json:"status,omitempty"`
}

// StatusResponse is returned by the task status endpoint.
type StatusResponse struct {
	TaskID string `json:"aige_task_id"`
	Status Status `json:"status"`

	// Raw is the undecoded response body.
	Raw json.RawMessage `json:"-"`
}

// FinetuneResponse is returned when a finetune is started.
type FinetuneResponse struct {
	FinetuneID string `json:"finetune_id"`
}

// FinetuneResult is returned by the finetune result endpoint once the
// trained model is available.
type FinetuneResult struct {
	FinetuneID string `json:"finetune_id"`

	// Raw is the undecoded response body.
	Raw json.RawMessage `json:"-"`
}

// FluxUltraResponse is returned when a flux_ultra generation is queued.
type FluxUltraResponse struct {
	RequestID string `json:"request_id"`
}

// Image is one generated image.
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// FluxUltraResult is returned by the flux_ultra result endpoint once the
// generation finished.
type FluxUltraResult struct {
	Images []Image `json:"images"`
	Seed   *int64  `json:"seed,omitempty"`

	// Raw is the undecoded response body.
	Raw json.RawMessage `json:"-"`
}

// ImageURL returns the URL of the first image, or "" when there is none.
func (r FluxUltraResult) ImageURL() string {
	if len(r.Images) == 0 {
		return ""
	}
	return r.Images[0].URL
}

// URLs is a presigned write/read pair minted by the service.
type URLs struct {
	Key      string `json:"key"`
	WriteURL string `json:"writeUrl"`
	ReadURL  string `json:"readUrl"`
}
