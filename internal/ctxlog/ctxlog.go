// Package ctxlog provides a context key for safely passing a slog.Logger
// instance through context.Context, plus the severity-based logging surface
// the host exposes to modules.
package ctxlog

import (
	"context"
	"log/slog"
)

// key is an unexported type to prevent collisions with context keys from other packages.
type key struct{}

// loggerKey is the key for the slog.Logger in a context.Context.
var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the slog.Logger from a context. If no logger is
// found, it returns the default global logger so that logging never fails.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Severity classifies a host log message.
type Severity int

const (
	// SeverityStatus is an informational progress message.
	SeverityStatus Severity = iota
	// SeverityWarning marks a recoverable problem.
	SeverityWarning
	// SeverityError marks a failed operation that was skipped or aborted.
	SeverityError
)

// Level maps a Severity onto the slog level used to emit it.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "status"
	}
}

// Log emits a message with the given severity and importance (0..9, higher
// means more important). It never blocks and has no return value.
func Log(ctx context.Context, sev Severity, importance int, msg string, args ...any) {
	if importance < 0 {
		importance = 0
	} else if importance > 9 {
		importance = 9
	}
	args = append(args, "importance", importance)
	FromContext(ctx).Log(ctx, sev.Level(), msg, args...)
}
