// Package notify delivers fired alerts to configured notification
// channels. Channels are registered on a dispatcher by id; delivery
// failures are isolated per channel so one broken endpoint never blocks
// the rest.
package notify

import (
	"context"
	"sync"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/monitoring"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

// Channel delivers a single alert to one destination.
type Channel interface {
	// Type names the delivery mechanism, e.g. "webhook" or "email".
	Type() string
	Send(ctx context.Context, alert monitoring.Alert) error
}

// Dispatcher routes alerts to registered channels.
type Dispatcher struct {
	o11y observability.Observability

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(o11y observability.Observability) *Dispatcher {
	return &Dispatcher{
		o11y:     o11y,
		channels: make(map[string]Channel),
	}
}

// Register adds a channel under the given id, replacing any previous
// channel with the same id.
func (d *Dispatcher) Register(id string, channel Channel) {
	d.mu.Lock()
	d.channels[id] = channel
	d.mu.Unlock()

	d.o11y.Logger().Info(context.Background(), "notification channel registered",
		observability.String("channel_id", id),
		observability.String("channel_type", channel.Type()),
	)
}

// Send delivers the alert to every channel id in order. Failures are
// logged and collected; delivery continues to the remaining channels. The
// returned map holds one entry per failed channel id, including ids that
// were never registered; successful deliveries are absent.
func (d *Dispatcher) Send(ctx context.Context, alert monitoring.Alert, channelIDs []string) map[string]error {
	errs := make(map[string]error)

	for _, id := range channelIDs {
		d.mu.RLock()
		channel, ok := d.channels[id]
		d.mu.RUnlock()

		if !ok {
			d.o11y.Logger().Warn(ctx, "notification channel not registered",
				observability.String("channel_id", id),
				observability.String("rule_id", alert.RuleID),
			)
			deliveriesTotal.WithLabelValues("unknown", "unknown_channel").Inc()
			errs[id] = errdefs.NewUser("notification channel not registered").
				WithDetail("channel_id", id)
			continue
		}

		if err := channel.Send(ctx, alert); err != nil {
			d.o11y.Logger().Error(ctx, "alert delivery failed",
				observability.String("channel_id", id),
				observability.String("channel_type", channel.Type()),
				observability.String("rule_id", alert.RuleID),
				observability.Error(err),
			)
			deliveriesTotal.WithLabelValues(channel.Type(), "error").Inc()
			errs[id] = err
			continue
		}

		deliveriesTotal.WithLabelValues(channel.Type(), "success").Inc()
	}
	return errs
}
