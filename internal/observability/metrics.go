package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects application metrics for the orchestrator.
//
// The metrics system is built on Prometheus and tracks:
//   - Chat turns processed per session outcome
//   - Completion request performance and response times
//   - Tool execution patterns and latencies through the bridge
//   - Schedule firings by kind
//   - Rate limiter rejections
//   - Active WebSocket connections
type Metrics struct {
	// ChatTurns counts processed chat turns.
	// Labels: status (ok|rate_limited|error)
	ChatTurns *prometheus.CounterVec

	// CompletionDuration measures model API call latency in seconds.
	// Labels: model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	CompletionDuration *prometheus.HistogramVec

	// CompletionCounter counts completion requests.
	// Labels: model, status (success|error)
	CompletionCounter *prometheus.CounterVec

	// ToolExecutions counts tool invocations through the bridge.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolDuration *prometheus.HistogramVec

	// ScheduleFirings counts fired schedules.
	// Labels: kind (once|recurring)
	ScheduleFirings *prometheus.CounterVec

	// RateLimited counts chat turns rejected by the rate limiter.
	RateLimited prometheus.Counter

	// WSConnections is a gauge of currently open WebSocket connections.
	WSConnections prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency in seconds.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with reg.
// Pass prometheus.DefaultRegisterer to expose them through the standard
// /metrics handler; tests pass an isolated registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChatTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valet_chat_turns_total",
				Help: "Total number of chat turns processed by outcome",
			},
			[]string{"status"},
		),

		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valet_completion_duration_seconds",
				Help:    "Duration of model completion requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),

		CompletionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valet_completions_total",
				Help: "Total number of model completion requests by model and status",
			},
			[]string{"model", "status"},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valet_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valet_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		ScheduleFirings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valet_schedule_firings_total",
				Help: "Total number of fired schedules by kind",
			},
			[]string{"kind"},
		),

		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "valet_rate_limited_total",
				Help: "Total number of chat turns rejected by the rate limiter",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "valet_ws_connections",
				Help: "Current number of open WebSocket connections",
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valet_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordChatTurn increments the chat turn counter for an outcome.
//
// Example:
//
//	metrics.RecordChatTurn("ok")
func (m *Metrics) RecordChatTurn(status string) {
	m.ChatTurns.WithLabelValues(status).Inc()
}

// RecordCompletion records metrics for a model completion request.
func (m *Metrics) RecordCompletion(model, status string, durationSeconds float64) {
	m.CompletionCounter.WithLabelValues(model, status).Inc()
	m.CompletionDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordToolExecution records metrics for one bridge tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("send_imessage", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordScheduleFiring increments the schedule firing counter.
func (m *Metrics) RecordScheduleFiring(kind string) {
	m.ScheduleFirings.WithLabelValues(kind).Inc()
}

// RecordRateLimited increments the rate limiter rejection counter.
func (m *Metrics) RecordRateLimited() {
	m.RateLimited.Inc()
}

// WSConnected increments the WebSocket connection gauge.
func (m *Metrics) WSConnected() {
	m.WSConnections.Inc()
}

// WSDisconnected decrements the WebSocket connection gauge.
func (m *Metrics) WSDisconnected() {
	m.WSConnections.Dec()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
