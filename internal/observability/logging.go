// Package observability bundles structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the proxy.
package observability

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
)

// DefaultRedactPatterns match secret-shaped values in log output.
var DefaultRedactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer)["':\s=]+[A-Za-z0-9_\-\.]{8,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`dapi[A-Za-z0-9]{16,}`),
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string // debug | info | warn | error
	Format string // json | text
	Redact bool
}

// NewLogger builds the root slog.Logger. Secret-shaped attribute values
// are redacted when Redact is set.
func NewLogger(cfg LogConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Redact {
		opts.ReplaceAttr = redactAttr
	}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	for _, re := range DefaultRedactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	a.Value = slog.StringValue(s)
	return a
}

// WithRequestID stores a request id for FromContext extraction.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithSessionID stores a session id for FromContext extraction.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// FromContext returns a logger annotated with the ids stored in ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		logger = logger.With("request_id", id)
	}
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		logger = logger.With("session_id", id)
	}
	return logger
}
