// Package logging provides structured logging configuration using log/slog.
//
// Loggers taken from a request context carry chi's request id and, when a
// span is active, the trace id, so upload and report log lines can be
// correlated with each other and with traces.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/enrolment/internal/config"
)

// Setup configures the global slog logger from cfg and returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(cfg config.LoggingConfig) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, cfg.Level, cfg.Format))
	slog.SetDefault(logger)
	return logger
}

// NewHandler builds a text or JSON handler writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// FromContext returns the default logger enriched with request_id and
// trace_id when ctx carries them.
//
// Usage:
//
//	func handleRequest(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("processing batch", "mode", mode)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logger = logger.With("trace_id", sc.TraceID().String())
	}

	return logger
}

// WithFields returns a request logger with additional structured fields.
//
//	log := logging.WithFields(ctx, "mode", mode.String(), "files", n)
//	log.Info("batch upload complete", "tables", tables)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
