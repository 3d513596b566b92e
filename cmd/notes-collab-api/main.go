// Package main is the entry point for the notes collaboration server.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/notes-collab-server/cmd/notes-collab-api/app"
	"github.com/stacklok/notes-collab-server/internal/config"
)

// getLogLevel parses NOTES_COLLAB_LOG_LEVEL and returns the corresponding slog.Level.
// Falls back to LOG_LEVEL, and to info when neither is set or the value is invalid.
func getLogLevel() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
		return slog.LevelInfo
	}
}

// traceHandler wraps an slog.Handler to inject OpenTelemetry trace_id and
// span_id into every log record.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

func main() {
	// stderr keeps stdout clean for `version --format json` and `prime-db --dry-run`
	baseHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: getLogLevel()})
	slog.SetDefault(slog.New(&traceHandler{Handler: baseHandler}))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
