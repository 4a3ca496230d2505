package otel

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/chimera-analytics/chimera/pkg/observability"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// otelLogger implements observability.Logger. Entries go to the console
// writer as newline-delimited JSON and, when OTLP export is enabled, to the
// OTel log pipeline as well.
type otelLogger struct {
	otelLog     otellog.Logger
	slogLogger  *slog.Logger
	level       observability.LogLevel
	serviceName string
	fields      []observability.Field
}

// newOtelLogger creates a new logger with the specified level, writing
// console output to w.
func newOtelLogger(
	level observability.LogLevel,
	serviceName string,
	w io.Writer,
	otelLog otellog.Logger,
) *otelLogger {
	return &otelLogger{
		otelLog:     otelLog,
		slogLogger:  slog.New(newConsoleHandler(level, w)),
		level:       level,
		serviceName: serviceName,
		fields:      make([]observability.Field, 0),
	}
}

// newConsoleHandler builds the JSON handler for console output. The built-in
// slog keys are renamed to the platform's log schema: timestamp, level,
// message.
func newConsoleHandler(level observability.LogLevel, w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: convertLogLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "timestamp"
			case slog.MessageKey:
				a.Key = "message"
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(lvl))
				}
			}
			return a
		},
	})
}

// convertLogLevel converts observability.LogLevel to slog.Level.
func convertLogLevel(level observability.LogLevel) slog.Level {
	levelMap := map[observability.LogLevel]slog.Level{
		observability.LogLevelDebug: slog.LevelDebug,
		observability.LogLevelInfo:  slog.LevelInfo,
		observability.LogLevelWarn:  slog.LevelWarn,
		observability.LogLevelError: slog.LevelError,
	}

	if slogLevel, exists := levelMap[level]; exists {
		return slogLevel
	}

	return slog.LevelInfo
}

// levelName renders a slog.Level using the platform's level vocabulary.
func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warning"
	default:
		return "error"
	}
}

// Debug logs a debug-level message.
func (l *otelLogger) Debug(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, slog.LevelDebug, msg, fields...)
}

// Info logs an info-level message.
func (l *otelLogger) Info(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, slog.LevelInfo, msg, fields...)
}

// Warn logs a warning-level message.
func (l *otelLogger) Warn(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, slog.LevelWarn, msg, fields...)
}

// Error logs an error-level message.
func (l *otelLogger) Error(ctx context.Context, msg string, fields ...observability.Field) {
	l.log(ctx, slog.LevelError, msg, fields...)
}

// log is the internal logging method that adds service, trace and
// correlation context to the structured fields.
func (l *otelLogger) log(ctx context.Context, level slog.Level, msg string, fields ...observability.Field) {
	allFields := make([]observability.Field, 0, len(l.fields)+len(fields)+4)
	allFields = append(allFields, observability.String("service", l.serviceName))
	allFields = append(allFields, l.fields...)
	allFields = append(allFields, fields...)

	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		allFields = append(allFields,
			observability.String("trace_id", spanContext.TraceID().String()),
			observability.String("span_id", spanContext.SpanID().String()),
		)
	}

	// Every record emitted while a correlation id is bound carries it.
	if correlationID := observability.CorrelationIDFromContext(ctx); correlationID != "" {
		allFields = append(allFields, observability.String("correlation_id", correlationID))
	}

	attrs := make([]slog.Attr, 0, len(allFields))
	for _, field := range allFields {
		attrs = append(attrs, convertFieldToSlogAttr(field))
	}

	l.slogLogger.LogAttrs(ctx, level, msg, attrs...)

	l.emitOTLPLog(ctx, level, msg, allFields)
}

// emitOTLPLog emits a log record to the OTel log pipeline. Trace context is
// extracted from ctx by the SDK.
func (l *otelLogger) emitOTLPLog(
	ctx context.Context,
	level slog.Level,
	msg string,
	fields []observability.Field,
) {
	attrs := make([]otellog.KeyValue, 0, len(fields))
	for _, field := range fields {
		attrs = append(attrs, convertFieldToLogKeyValue(field))
	}

	record := otellog.Record{}
	record.SetTimestamp(time.Now())
	record.SetBody(otellog.StringValue(msg))
	record.SetSeverity(convertSlogLevelToOTel(level))
	record.SetSeverityText(levelName(level))
	record.AddAttributes(attrs...)

	l.otelLog.Emit(ctx, record)
}

// convertSlogLevelToOTel converts slog.Level to OTel Severity.
func convertSlogLevelToOTel(level slog.Level) otellog.Severity {
	severityMap := map[slog.Level]otellog.Severity{
		slog.LevelDebug: otellog.SeverityDebug,
		slog.LevelInfo:  otellog.SeverityInfo,
		slog.LevelWarn:  otellog.SeverityWarn,
		slog.LevelError: otellog.SeverityError,
	}

	if severity, exists := severityMap[level]; exists {
		return severity
	}

	return otellog.SeverityInfo
}

// With creates a child logger with additional permanent fields.
func (l *otelLogger) With(fields ...observability.Field) observability.Logger {
	combined := make([]observability.Field, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)

	return &otelLogger{
		otelLog:     l.otelLog,
		slogLogger:  l.slogLogger,
		level:       l.level,
		serviceName: l.serviceName,
		fields:      combined,
	}
}
