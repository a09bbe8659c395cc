package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance configured for the application.
var Logger *slog.Logger

// InitLogger configures the global logger. Records go to stderr as JSON so
// that command output on stdout stays machine readable.
func InitLogger(level string, service string) {
	Logger = New(os.Stderr, level, service)
	slog.SetDefault(Logger)
}

// New builds a JSON logger writing to w that stamps every record with the
// service name and a status string derived from the level.
func New(w io.Writer, level string, service string) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(&statusHandler{next: jsonHandler, service: service})
}

// GetLogger returns the global logger instance, or slog.Default before
// InitLogger has run.
func GetLogger() *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
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

type statusHandler struct {
	next    slog.Handler
	service string
}

func (h *statusHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *statusHandler) Handle(ctx context.Context, record slog.Record) error {
	clone := record.Clone()
	clone.AddAttrs(
		slog.String("service", h.service),
		slog.String("status", levelToStatus(clone.Level)),
	)
	return h.next.Handle(ctx, clone)
}

func (h *statusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &statusHandler{next: h.next.WithAttrs(attrs), service: h.service}
}

func (h *statusHandler) WithGroup(name string) slog.Handler {
	return &statusHandler{next: h.next.WithGroup(name), service: h.service}
}

func levelToStatus(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warning"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
