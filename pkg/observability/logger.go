package observability

import (
	"context"
	"strings"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel maps a configured level name to a LogLevel. It accepts the
// platform's configuration vocabulary (DEBUG, INFO, WARNING, ERROR,
// CRITICAL) in any casing; unknown names fall back to info.
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return LogLevelDebug
	case "INFO":
		return LogLevelInfo
	case "WARNING", "WARN":
		return LogLevelWarn
	case "ERROR", "CRITICAL":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger provides structured logging with trace and correlation context
// propagation. Entries are newline-delimited JSON on stdout carrying
// timestamp, level, service, message, the bound correlation_id when one is
// present on the context, and an exception record when an Error field is
// passed.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(ctx context.Context, msg string, fields ...Field)

	// Info logs an info-level message with optional structured fields.
	Info(ctx context.Context, msg string, fields ...Field)

	// Warn logs a warning-level message with optional structured fields.
	Warn(ctx context.Context, msg string, fields ...Field)

	// Error logs an error-level message with optional structured fields.
	Error(ctx context.Context, msg string, fields ...Field)

	// With returns a child logger whose entries always include the given
	// fields. Conventionally With(String("logger", name)) names the
	// component that owns the entries.
	With(fields ...Field) Logger
}
