// Package obslog provides the crawler's structured logger, adapted from
// the teacher's internal/utils logger: same slog.JSONHandler and
// WithContext group-attrs pattern, generalized from request/user IDs to
// the component name and chat address a log line concerns.
package obslog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukepan/muclumbus/internal/contextkey"
)

// Logger wraps slog with context-aware enrichment.
type Logger struct {
	slog *slog.Logger
}

// New creates a structured logger writing JSON to stdout at logLevel.
// Invalid levels fall back to info, matching the teacher's behaviour.
func New(logLevel string) *Logger {
	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		*level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})

	return &Logger{slog: slog.New(handler)}
}

// WithContext returns a child logger enriched with the component name and
// address carried on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	logger := l.slog

	if component, ok := ctx.Value(contextkey.ContextKeyComponent).(string); ok {
		logger = logger.With(slog.String("component", component))
	}
	if addr, ok := ctx.Value(contextkey.ContextKeyAddress).(string); ok {
		logger = logger.With(slog.String("address", addr))
	}
	if reqID, ok := ctx.Value(contextkey.ContextKeyRequestID).(string); ok {
		logger = logger.With(slog.String("request_id", reqID))
	}
	if userID, ok := ctx.Value(contextkey.ContextKeyUserID).(string); ok {
		logger = logger.With(slog.String("user_id", userID))
	}

	return logger
}

// WithComponent returns a context carrying the given component name, which
// WithContext attaches as a "component" attribute to every log call made
// with it.
func WithComponent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextkey.ContextKeyComponent, name)
}

// WithAddress returns a context carrying the address currently being
// processed, for log enrichment during a crawl pass.
func WithAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, contextkey.ContextKeyAddress, addr)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Info(fmt.Sprintf(msg, args...))
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Warn(fmt.Sprintf(msg, args...))
}

func (l *Logger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Debug(fmt.Sprintf(msg, args...))
}

// Fatal logs at error level and exits; use sparingly, for unrecoverable
// startup failures only.
func (l *Logger) Fatal(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}
