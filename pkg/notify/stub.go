package notify

import (
	"context"

	"github.com/chimera-analytics/chimera/pkg/monitoring"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

// LogChannel records deliveries in the log instead of performing them.
// It stands in for provider-backed channels (SMTP, push gateways, SMS
// APIs) whose credentials and transport are wired at deployment.
type LogChannel struct {
	channelType string
	o11y        observability.Observability
}

// NewEmail creates an email delivery stub.
func NewEmail(o11y observability.Observability) *LogChannel {
	return &LogChannel{channelType: "email", o11y: o11y}
}

// NewPush creates a push-notification delivery stub.
func NewPush(o11y observability.Observability) *LogChannel {
	return &LogChannel{channelType: "push", o11y: o11y}
}

// NewSMS creates an SMS delivery stub.
func NewSMS(o11y observability.Observability) *LogChannel {
	return &LogChannel{channelType: "sms", o11y: o11y}
}

func (c *LogChannel) Type() string { return c.channelType }

func (c *LogChannel) Send(ctx context.Context, alert monitoring.Alert) error {
	c.o11y.Logger().Info(ctx, "alert delivery stub",
		observability.String("channel_type", c.channelType),
		observability.String("rule_id", alert.RuleID),
		observability.String("severity", string(alert.Severity)),
	)
	return nil
}
