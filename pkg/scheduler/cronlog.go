package scheduler

import (
	"context"

	"github.com/chimera-analytics/chimera/pkg/observability"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts the observability logger to cron's logger interface.
// The runtime's own chatter (wake, run, schedule) lands at debug; errors,
// including recovered job panics from the cron chain, at error.
type cronLogger struct {
	o11y observability.Observability
}

func newCronLogger(o11y observability.Observability) cron.Logger {
	return &cronLogger{o11y: o11y}
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.o11y.Logger().Debug(context.Background(), msg, cronFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(cronFields(keysAndValues), observability.Error(err))
	l.o11y.Logger().Error(context.Background(), msg, fields...)
}

func cronFields(keysAndValues []any) []observability.Field {
	fields := make([]observability.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, observability.Any(key, keysAndValues[i+1]))
	}
	return fields
}
