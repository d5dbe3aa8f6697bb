package aige

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("http://aige.local/")
	require.NoError(t, err)
	assert.Equal(t, "http://aige.local", c.baseURL)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)

	c, err = NewClient("http://aige.local", WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestStatus_Classes(t *testing.T) {
	tests := []struct {
		status   Status
		done     bool
		failed   bool
		notFound bool
	}{
		{"pending", false, false, false},
		{"processing_overlay", false, false, false},
		{"uploading_video", false, false, false},
		{"done", true, false, false},
		{"COMPLETED", true, false, false},
		{"succeeded", true, false, false},
		{"error", false, true, false},
		{"failed", false, true, false},
		{"not_found", false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.done, tt.status.IsDone())
			assert.Equal(t, tt.failed, tt.status.IsError())
			assert.Equal(t, tt.notFound, tt.status.IsNotFound())
		})
	}
}

func TestStatusFailed_AndStatusErrorType(t *testing.T) {
	assert.True(t, StatusFailed.IsError())
	assert.Equal(t, Status("error"), StatusFailed)

	var err error = &StatusError{StatusCode: http.StatusInternalServerError, Body: "boom"}
	assert.ErrorIs(t, err, ErrServerError)
}

func TestHTTPClient_CreateAvatar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/avatar", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "av-1", body["avatar_id"])

		_ = json.NewEncoder(w).Encode(SubmitResponse{TaskID: "task-1", AvatarID: "av-1", Status: "processing"})
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	resp, err := c.CreateAvatar(context.Background(), map[string]string{"avatar_id": "av-1"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, "av-1", resp.AvatarID)
}

func TestHTTPClient_UpdateStage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/avatar/av-1/upscaled", r.URL.Path)
		_ = json.NewEncoder(w).Encode(SubmitResponse{TaskID: "task-2", AvatarID: "av-1"})
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	resp, err := c.UpdateStage(context.Background(), "av-1", "upscaled", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "task-2", resp.TaskID)

	_, err = c.UpdateStage(context.Background(), "", "upscaled", struct{}{})
	assert.ErrorIs(t, err, ErrAvatarIDRequired)
}

func TestHTTPClient_Submit_NoTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = c.CreateAvatar(context.Background(), struct{}{})
	assert.ErrorIs(t, err, ErrNoTaskIDReturned)
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadGateway, ErrServerError},
		{http.StatusUnprocessableEntity, ErrRequestFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer server.Close()

			c, err := NewClient(server.URL)
			require.NoError(t, err)

			_, err = c.TaskStatus(context.Background(), "task-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.StatusCode)
			assert.Contains(t, se.Body, "nope")
			assert.Equal(t, int32(1), calls.Load(), "no retries")
		})
	}
}

func TestHTTPClient_TaskStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/task/task-1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"aige_task_id":"task-1","status":"processing_overlay"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	resp, err := c.TaskStatus(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, Status("processing_overlay"), resp.Status)
	assert.JSONEq(t, `{"aige_task_id":"task-1","status":"processing_overlay"}`, string(resp.Raw))

	_, err = c.TaskStatus(context.Background(), "")
	assert.ErrorIs(t, err, ErrTaskIDRequired)
}

func TestHTTPClient_FinetuneFlow(t *testing.T) {
	var ready atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/finetune/":
			_, _ = w.Write([]byte(`{"finetune_id":"ft-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/finetune/result/ft-1":
			if !ready.Load() {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"finetune_id":"model-9"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	started, err := c.StartFinetune(context.Background(), map[string]string{"data_url": "https://r/data.zip"})
	require.NoError(t, err)
	assert.Equal(t, "ft-1", started.FinetuneID)

	_, err = c.FinetuneResult(context.Background(), "ft-1")
	assert.ErrorIs(t, err, ErrNotFound)

	ready.Store(true)
	result, err := c.FinetuneResult(context.Background(), "ft-1")
	require.NoError(t, err)
	assert.Equal(t, "model-9", result.FinetuneID)
}

func TestHTTPClient_FluxUltraFlow(t *testing.T) {
	var ready atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/flux-ultra/":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "model-9", body["finetune_id"])
			_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/flux-ultra/result/req-1":
			if !ready.Load() {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"detail":"Generation not completed yet."}`))
				return
			}
			_, _ = w.Write([]byte(`{"images":[{"url":"https://fal.test/img.jpg","width":1024,"height":1024}],"seed":42}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	started, err := c.StartFluxUltra(context.Background(), map[string]string{"prompt": "p", "finetune_id": "model-9"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", started.RequestID)

	_, err = c.FluxUltraResult(context.Background(), "req-1")
	assert.ErrorIs(t, err, ErrNotFound)

	ready.Store(true)
	result, err := c.FluxUltraResult(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "https://fal.test/img.jpg", result.ImageURL())
	require.NotNil(t, result.Seed)
	assert.Equal(t, int64(42), *result.Seed)

	_, err = c.FluxUltraResult(context.Background(), "")
	assert.ErrorIs(t, err, ErrTaskIDRequired)
	assert.Empty(t, FluxUltraResult{}.ImageURL())
}

func TestHTTPClient_GenerateURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-urls", r.URL.Path)
		_, _ = w.Write([]byte(`{"key":"k","writeUrl":"https://s3/w?sig","readUrl":"https://s3/r"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	urls, err := c.GenerateURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, URLs{Key: "k", WriteURL: "https://s3/w?sig", ReadURL: "https://s3/r"}, urls)
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.TaskStatus(ctx, "task-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
