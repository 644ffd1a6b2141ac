package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the daemon logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string
	// Format is "json" or "text". JSON is the production default.
	Format string
	// Output is the log writer, os.Stderr when nil.
	Output io.Writer
}

// redactPatterns match credential material that must never land in logs:
// the completion service API key, bearer tokens, and generic secrets.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9_\-.]{8,}`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|password)[\s:=]+)["']?[^\s"']{8,}["']?`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces credential-shaped substrings in s.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			if groups := re.FindStringSubmatch(match); len(groups) > 1 {
				return groups[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return s
}

// NewLogger builds the slog logger the daemon runs on. Every string
// attribute and message passes through Redact before it is written.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(Redact(a.Value.String()))
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}
