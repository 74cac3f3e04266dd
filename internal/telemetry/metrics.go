// Package telemetry holds Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codex-k8s/compute-mcp-server/internal/constants"
)

// Metrics holds all Prometheus collectors of the server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	engineRuns     *prometheus.CounterVec
	engineDuration prometheus.Histogram
	engineInFlight prometheus.Gauge
	authFailures   *prometheus.CounterVec
	timeoutClamps  prometheus.Counter
	cacheHits      prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	healthChecks   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics set on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compute_mcp_tool_calls_total",
				Help: "Tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compute_mcp_tool_call_duration_seconds",
				Help:    "Tool call latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tool"},
		),
		engineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compute_mcp_engine_executions_total",
				Help: "Engine process executions by outcome",
			},
			[]string{"outcome"},
		),
		engineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "compute_mcp_engine_execution_duration_seconds",
				Help:    "Engine process wall time in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		engineInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "compute_mcp_engine_processes_running",
				Help: "Engine processes currently running",
			},
		),
		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compute_mcp_auth_failures_total",
				Help: "Rejected requests by reason",
			},
			[]string{"reason"},
		),
		timeoutClamps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "compute_mcp_timeout_clamped_total",
				Help: "Requests whose timeout was clamped to the maximum",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "compute_mcp_cache_hits_total",
				Help: "Tool calls answered from the result cache",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compute_mcp_http_requests_total",
				Help: "HTTP requests by method, endpoint and status",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compute_mcp_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		healthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compute_mcp_health_check_transitions_total",
				Help: "Health check transitions by check name",
			},
			[]string{"check"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.toolCalls,
		m.toolDuration,
		m.engineRuns,
		m.engineDuration,
		m.engineInFlight,
		m.authFailures,
		m.timeoutClamps,
		m.cacheHits,
		m.httpRequests,
		m.httpDuration,
		m.healthChecks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordToolCall records a finished tool call. Outcome is "ok" or an error kind.
func (m *Metrics) RecordToolCall(tool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// EngineStarted marks an engine process as running.
func (m *Metrics) EngineStarted() {
	if m == nil {
		return
	}
	m.engineInFlight.Inc()
}

// EngineFinished records an engine process exit.
func (m *Metrics) EngineFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.engineInFlight.Dec()
	m.engineRuns.WithLabelValues(outcome).Inc()
	m.engineDuration.Observe(duration.Seconds())
}

// RecordAuthFailure counts a rejected request.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// RecordTimeoutClamp counts a clamped timeout.
func (m *Metrics) RecordTimeoutClamp() {
	if m == nil {
		return
	}
	m.timeoutClamps.Inc()
}

// RecordCacheHit counts a cached tool result.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordHealthTransition counts a health check flipping to true.
func (m *Metrics) RecordHealthTransition(check string) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(check).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Middleware records request metrics for next. mcpPath names the MCP endpoint.
func (m *Metrics) Middleware(mcpPath string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path, mcpPath), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func endpointName(path, mcpPath string) string {
	switch path {
	case constants.PathHealth:
		return "health"
	case constants.PathHealthz:
		return "healthz"
	case constants.PathReadyz:
		return "readyz"
	case constants.PathInfo:
		return "info"
	case constants.PathMetrics:
		return "metrics"
	case mcpPath:
		return "mcp"
	default:
		return "unknown"
	}
}
