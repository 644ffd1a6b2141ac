// Package observability carries the daemon's monitoring surface: Prometheus
// metrics for chat turns, completions, tool executions, schedule firings,
// and the HTTP/WebSocket gateway, plus the slog-based logger with credential
// redaction.
//
// Metrics register against a caller-supplied registry (the default registry
// in production, an isolated one in tests) and are exposed on /metrics by
// the gateway:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.RecordChatTurn("ok")
//	metrics.RecordToolExecution("screenshot", "success", elapsed.Seconds())
//
// The logger is plain slog with a ReplaceAttr hook that strips API keys and
// bearer tokens before records are written:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	slog.SetDefault(logger)
package observability
