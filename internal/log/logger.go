package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a logger writing to w.
// logic: default to INFO. If level is invalid, fallback to INFO.
// format "text" selects the text handler; anything else is JSON.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithComponent returns a logger with the component field set.
func WithComponent(l *slog.Logger, name string) *slog.Logger {
	return orDiscard(l).With(slog.String("component", name))
}

// WithPlugin returns a logger with the plugin field set.
func WithPlugin(l *slog.Logger, name string) *slog.Logger {
	return orDiscard(l).With(slog.String("plugin", name))
}

// WithRequest returns a logger with the request_id field set.
func WithRequest(l *slog.Logger, id string) *slog.Logger {
	return orDiscard(l).With(slog.String("request_id", id))
}

type loggerKey struct{}

// IntoContext attaches a logger handle to ctx.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger carried by ctx, or a discard logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return Discard()
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
