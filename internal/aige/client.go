package aige

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Static errors for AIGE client operations.
var (
	// ErrBaseURLRequired is returned when the base URL is not provided.
	ErrBaseURLRequired = errors.New("aige: base URL is required")
	// ErrAvatarIDRequired is returned when the avatar ID is not provided.
	ErrAvatarIDRequired = errors.New("aige: avatar ID is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("aige: task ID is required")
	// ErrNoTaskIDReturned is returned when a submit response carries no task ID.
	ErrNoTaskIDReturned = errors.New("aige: submit failed: no task ID returned")
	// ErrNotFound is returned when the server returns a 404 status code.
	ErrNotFound = errors.New("aige: not found")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("aige: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("aige: rate limited")
	// ErrRequestFailed is returned when the request fails with any other non-2xx status code.
	ErrRequestFailed = errors.New("aige: request failed")
)

// StatusError describes a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d): %s", e.Unwrap(), e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServerError
	default:
		return ErrRequestFailed
	}
}

// Client defines the interface for interacting with the AIGE service.
type Client interface {
	// CreateAvatar starts a run's avatar task.
	CreateAvatar(ctx context.Context, body any) (SubmitResponse, error)

	// UpdateStage submits a later stage in place under an existing avatar.
	UpdateStage(ctx context.Context, avatarID, segment string, body any) (SubmitResponse, error)

	// StartFinetune starts a finetune and returns its ID.
	StartFinetune(ctx context.Context, body any) (FinetuneResponse, error)

	// TaskStatus fetches the current status of a task.
	TaskStatus(ctx context.Context, taskID string) (StatusResponse, error)

	// FinetuneResult fetches a finetune result. It returns ErrNotFound until
	// the result is ready.
	FinetuneResult(ctx context.Context, finetuneID string) (FinetuneResult, error)

	// StartFluxUltra queues an image generation from a finetuned model.
	StartFluxUltra(ctx context.Context, body any) (FluxUltraResponse, error)

	// FluxUltraResult fetches a flux_ultra result. It returns ErrNotFound
	// until the images are ready.
	FluxUltraResult(ctx context.Context, requestID string) (FluxUltraResult, error)

	// GenerateURLs mints a fresh presigned URL pair.
	GenerateURLs(ctx context.Context) (URLs, error)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of Client. Every call performs
// exactly one request; retries are left to callers.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = &http.Client{Timeout: d}
	}
}

// NewClient creates a new AIGE HTTP client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateAvatar posts to /avatar.
func (c *HTTPClient) CreateAvatar(ctx context.Context, body any) (SubmitResponse, error) {
	var resp SubmitResponse
	if _, err := c.do(ctx, http.MethodPost, "/avatar", body, &resp); err != nil {
		return SubmitResponse{}, err
	}
	if resp.TaskID == "" {
		return SubmitResponse{}, ErrNoTaskIDReturned
	}
	return resp, nil
}

// UpdateStage puts to /avatar/{avatarID}/{segment}.
func (c *HTTPClient) UpdateStage(ctx context.Context, avatarID, segment string, body any) (SubmitResponse, error) {
	if avatarID == "" {
		return SubmitResponse{}, ErrAvatarIDRequired
	}

	path := fmt.Sprintf("/avatar/%s/%s", url.PathEscape(avatarID), segment)

	var resp SubmitResponse
	if _, err := c.do(ctx, http.MethodPut, path, body, &resp); err != nil {
		return SubmitResponse{}, err
	}
	if resp.TaskID == "" {
		return SubmitResponse{}, ErrNoTaskIDReturned
	}
	return resp, nil
}

// StartFinetune posts to /finetune/.
func (c *HTTPClient) StartFinetune(ctx context.Context, body any) (FinetuneResponse, error) {
	var resp FinetuneResponse
	if _, err := c.do(ctx, http.MethodPost, "/finetune/", body, &resp); err != nil {
		return FinetuneResponse{}, err
	}
	if resp.FinetuneID == "" {
		return FinetuneResponse{}, ErrNoTaskIDReturned
	}
	return resp, nil
}

// TaskStatus gets /task/{taskID}/status.
func (c *HTTPClient) TaskStatus(ctx context.Context, taskID string) (StatusResponse, error) {
	if taskID == "" {
		return StatusResponse{}, ErrTaskIDRequired
	}

	var resp StatusResponse
	raw, err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(taskID)+"/status", nil, &resp)
	if err != nil {
		return StatusResponse{}, err
	}
	resp.Raw = raw
	return resp, nil
}

// FinetuneResult gets /finetune/result/{finetuneID}.
func (c *HTTPClient) FinetuneResult(ctx context.Context, finetuneID string) (FinetuneResult, error) {
	if finetuneID == "" {
		return FinetuneResult{}, ErrTaskIDRequired
	}

	var resp FinetuneResult
	raw, err := c.do(ctx, http.MethodGet, "/finetune/result/"+url.PathEscape(finetuneID), nil, &resp)
	if err != nil {
		return FinetuneResult{}, err
	}
	resp.Raw = raw
	return resp, nil
}

// StartFluxUltra posts to /flux-ultra/.
func (c *HTTPClient) StartFluxUltra(ctx context.Context, body any) (FluxUltraResponse, error) {
	var resp FluxUltraResponse
	if _, err := c.do(ctx, http.MethodPost, "/flux-ultra/", body, &resp); err != nil {
		return FluxUltraResponse{}, err
	}
	if resp.RequestID == "" {
		return FluxUltraResponse{}, ErrNoTaskIDReturned
	}
	return resp, nil
}

// FluxUltraResult gets /flux-ultra/result/{requestID}.
func (c *HTTPClient) FluxUltraResult(ctx context.Context, requestID string) (FluxUltraResult, error) {
	if requestID == "" {
		return FluxUltraResult{}, ErrTaskIDRequired
	}

	var resp FluxUltraResult
	raw, err := c.do(ctx, http.MethodGet, "/flux-ultra/result/"+url.PathEscape(requestID), nil, &resp)
	if err != nil {
		return FluxUltraResult{}, err
	}
	resp.Raw = raw
	return resp, nil
}

// GenerateURLs gets /generate-urls.
func (c *HTTPClient) GenerateURLs(ctx context.Context) (URLs, error) {
	var resp URLs
	if _, err := c.do(ctx, http.MethodGet, "/generate-urls", nil, &resp); err != nil {
		return URLs{}, err
	}
	return resp, nil
}

// do performs a single HTTP request and decodes a 2xx body into result.
// It returns the raw response body.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, result any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("aige: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("aige: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aige: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aige: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return respBody, fmt.Errorf("aige: unmarshal response: %w", err)
		}
	}
	return respBody, nil
}
