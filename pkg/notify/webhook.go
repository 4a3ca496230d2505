package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/httpclient"
	"github.com/chimera-analytics/chimera/pkg/monitoring"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBackoff  = 250 * time.Millisecond
)

// Webhook posts fired alerts as JSON to an HTTP endpoint.
type Webhook struct {
	url    string
	client *httpclient.Client
	o11y   observability.Observability

	retryAttempts int
	retryBackoff  time.Duration
}

// NewWebhook creates a webhook channel targeting url.
func NewWebhook(url string, client *httpclient.Client, o11y observability.Observability) (*Webhook, error) {
	if url == "" {
		return nil, errdefs.NewUser("webhook url is required")
	}
	return &Webhook{
		url:           url,
		client:        client,
		o11y:          o11y,
		retryAttempts: webhookRetryAttempts,
		retryBackoff:  webhookRetryBackoff,
	}, nil
}

func (w *Webhook) Type() string { return "webhook" }

// webhookPayload is the wire shape receivers depend on.
type webhookPayload struct {
	RuleID    string              `json:"rule_id"`
	Metric    string              `json:"metric"`
	Value     float64             `json:"value"`
	Threshold float64             `json:"threshold"`
	Severity  monitoring.Severity `json:"severity"`
	Timestamp time.Time           `json:"timestamp"`
}

// Send posts the alert, retrying transient failures. Alerts carry unique
// ids, so receivers can deduplicate a delivery that raced a retry.
func (w *Webhook) Send(ctx context.Context, alert monitoring.Alert) error {
	body, err := json.Marshal(webhookPayload{
		RuleID:    alert.RuleID,
		Metric:    alert.Metric,
		Value:     alert.Value,
		Threshold: alert.Threshold,
		Severity:  alert.Severity,
		Timestamp: alert.FiredAt,
	})
	if err != nil {
		return errdefs.NewDataProcessing("encode webhook payload").WithCause(err)
	}

	resp, err := w.client.Post(ctx, w.url, bytes.NewReader(body),
		httpclient.WithRetry(w.retryAttempts, w.retryBackoff, httpclient.DefaultRetryPolicy),
		httpclient.WithHeader("Content-Type", "application/json"),
	)
	if err != nil {
		return errdefs.NewSystem("webhook delivery failed").
			WithCode(errdefs.CodeDataSourceUnavailable).
			WithDetail("url", w.url).
			WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)

	if resp.StatusCode >= 400 {
		return errdefs.NewSystem(fmt.Sprintf("webhook returned HTTP %d", resp.StatusCode)).
			WithDetail("url", w.url)
	}

	w.o11y.Logger().Info(ctx, "webhook alert delivered",
		observability.String("rule_id", alert.RuleID),
		observability.String("severity", string(alert.Severity)),
	)
	return nil
}
