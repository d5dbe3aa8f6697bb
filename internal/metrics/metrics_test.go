package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/aige-pipeline/internal/stage"
	"github.com/maauso/aige-pipeline/internal/task"
)

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StatusChecked(stage.KindAvatar, "processing")
	m.TaskFinished(stage.KindAvatar, task.StatusDone, 10*time.Second)
	m.httpRequests.WithLabelValues("GET", "/health", "200").Inc()
	m.httpDuration.WithLabelValues("GET", "/health").Observe(0.01)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, name := range []string{
		"aige_status_checks_total",
		"aige_tasks_finished_total",
		"aige_stage_duration_seconds",
		"aige_http_requests_total",
		"aige_http_request_duration_seconds",
	} {
		assert.True(t, found[name], "metric %q not registered", name)
	}
}

func TestMetrics_Recorder(t *testing.T) {
	m := New(nil)

	m.StatusChecked(stage.KindBackground, "not_found")
	m.StatusChecked(stage.KindBackground, "not_found")
	m.StatusChecked(stage.KindBackground, "done")
	m.TaskFinished(stage.KindBackground, task.StatusDone, 12*time.Second)
	m.TaskFinished(stage.KindVideo, task.StatusTimedOut, 5*time.Minute)

	assert.InDelta(t, 2, testutil.ToFloat64(m.statusChecks.WithLabelValues("background", "not_found")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.statusChecks.WithLabelValues("background", "done")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksFinished.WithLabelValues("video", "timed_out")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New(nil)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/runs/{avatarID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/runs/a", "/runs/b", "/ok", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/runs/{avatarID}", "404")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/ok", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", unmatched, "404")), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.StatusChecked(stage.KindOverlay, "processing")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `aige_status_checks_total{outcome="processing",stage="overlay"} 1`))
}
