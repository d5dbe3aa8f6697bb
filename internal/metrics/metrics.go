// Package metrics exposes Prometheus collectors for the pipeline and its
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/aige-pipeline/internal/stage"
	"github.com/maauso/aige-pipeline/internal/task"
)

const unmatched = "unmatched"

// Metrics holds every collector. It implements the pipeline recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	statusChecks  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		statusChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aige_status_checks_total",
				Help: "Total number of task status checks by outcome.",
			},
			[]string{"stage", "outcome"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aige_tasks_finished_total",
				Help: "Total number of tasks that stopped polling, by final status.",
			},
			[]string{"stage", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aige_stage_duration_seconds",
				Help:    "Time from submission to the end of polling.",
				Buckets: []float64{5, 10, 30, 60, 120, 180, 240, 300, 600},
			},
			[]string{"stage"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aige_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aige_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(m.statusChecks, m.tasksFinished, m.stageDuration, m.httpRequests, m.httpDuration)
	return m
}

// StatusChecked counts one status check.
func (m *Metrics) StatusChecked(kind stage.Kind, outcome string) {
	m.statusChecks.WithLabelValues(kind.String(), outcome).Inc()
}

// TaskFinished counts a task whose engine finished and observes its duration.
func (m *Metrics) TaskFinished(kind stage.Kind, status task.Status, elapsed time.Duration) {
	m.tasksFinished.WithLabelValues(kind.String(), string(status)).Inc()
	m.stageDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

// Middleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}
