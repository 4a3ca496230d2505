// Package monitoring implements the monitoring agent: rule-driven
// alerting over the platform's metrics. It polls the retrieval agent for
// the metrics its rules watch, evaluates every sample that comes back,
// and fans fired alerts out to the bus and to notification channels.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chimera-analytics/chimera/pkg/agent"
	"github.com/chimera-analytics/chimera/pkg/cache"
	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/messaging"
	alerting "github.com/chimera-analytics/chimera/pkg/monitoring"
	"github.com/chimera-analytics/chimera/pkg/notify"
	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/resilience"
	"github.com/chimera-analytics/chimera/pkg/scheduler"
)

// Poll cadence per source class.
const (
	networkPollInterval = 5 * time.Minute
	marketPollInterval  = time.Minute
	socialPollInterval  = 15 * time.Minute
)

// notifierBreaker names the circuit breaker guarding channel delivery.
const notifierBreaker = "notifier"

// notifyTimeout bounds one delivery attempt across all channels.
const notifyTimeout = 10 * time.Second

// Agent is the monitoring agent.
type Agent struct {
	core     *agent.Agent
	engine   *alerting.Engine
	rules    *alerting.RuleStore
	samples  *cache.Cache
	notifier *notify.Dispatcher
	breakers *resilience.Registry
	o11y     observability.Observability

	notifyPolicy resilience.Policy
}

// New wires the monitoring agent onto the bus and mounts its polling jobs
// on sched. The scheduler is not started here; the process owns its
// lifecycle. A nil breakers registry falls back to the process-wide
// default.
func New(bus messaging.Bus, rules *alerting.RuleStore, samples *cache.Cache, notifier *notify.Dispatcher, sched *scheduler.Scheduler, breakers *resilience.Registry, o11y observability.Observability) (*Agent, error) {
	if breakers == nil {
		breakers = resilience.DefaultRegistry()
	}

	a := &Agent{
		core:         agent.New(AgentName, bus, o11y),
		engine:       alerting.NewEngine(o11y),
		rules:        rules,
		samples:      samples,
		notifier:     notifier,
		breakers:     breakers,
		o11y:         o11y,
		notifyPolicy: resilience.DefaultPolicy(),
	}

	a.core.RegisterRoutes(
		agent.Route{
			Pattern:    KeyRuleConfig,
			NewPayload: func() any { return &RuleConfig{} },
			Handler:    a.handleRuleConfig,
		},
		agent.Route{
			Pattern:    KeyDataResponse,
			NewPayload: func() any { return &DataRetrievalResponse{} },
			Handler:    a.handleDataResponse,
		},
	)

	polls := []struct {
		job      string
		interval time.Duration
		class    string
		source   DataSource
	}{
		{"poll_network", networkPollInterval, classBlockchain, DataSource{Type: SourceBlockchain, Name: SourceNameNode}},
		{"poll_market", marketPollInterval, classMarket, DataSource{Type: SourceExchange, Name: SourceNameExchanges}},
		{"poll_social", socialPollInterval, classSocial, DataSource{Type: SourceSocial, Name: SourceNameSocial}},
	}
	for _, poll := range polls {
		if err := sched.AddJob(poll.job, poll.interval, func(ctx context.Context) error {
			return a.poll(ctx, poll.class, poll.source)
		}); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Run loads the persisted rules into the engine, then consumes from the
// bus until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.loadRules(ctx); err != nil {
		return err
	}
	return a.core.Run(ctx)
}

// Close releases the agent's bus resources.
func (a *Agent) Close() error {
	return a.core.Close()
}

func (a *Agent) loadRules(ctx context.Context) error {
	stored, err := a.rules.LoadRules(ctx)
	if err != nil {
		return err
	}
	for _, rule := range stored {
		if err := a.engine.AddRule(rule); err != nil {
			a.o11y.Logger().Warn(ctx, "skipping invalid stored rule",
				observability.String("rule_id", rule.ID),
				observability.Error(err),
			)
		}
	}
	a.o11y.Logger().Info(ctx, "alert rules loaded",
		observability.Int("rules", len(stored)),
	)
	return nil
}

// handleRuleConfig applies a rule change to the engine and the store
// together, so a restart reloads what is currently being evaluated.
func (a *Agent) handleRuleConfig(ctx context.Context, delivery *messaging.Delivery) error {
	change := delivery.Payload.(*RuleConfig)

	switch change.Action {
	case ActionCreate, ActionUpdate:
		// Validate normalizes the rule in place, so the engine and the
		// store agree on the canonical form.
		if err := change.Rule.Validate(); err != nil {
			return err
		}
		if err := a.engine.AddRule(change.Rule); err != nil {
			return err
		}
		if err := a.rules.SaveRule(ctx, change.Rule); err != nil {
			return err
		}
		a.o11y.Logger().Info(ctx, "alert rule stored",
			observability.String("rule_id", change.Rule.ID),
			observability.String("action", change.Action),
		)
		return nil

	case ActionDelete:
		if change.Rule.ID == "" {
			return errdefs.NewUser("rule deletion needs a rule id")
		}
		a.engine.RemoveRule(change.Rule.ID)
		if err := a.rules.DeleteRule(ctx, change.Rule.ID); err != nil {
			return err
		}
		a.o11y.Logger().Info(ctx, "alert rule deleted",
			observability.String("rule_id", change.Rule.ID),
		)
		return nil

	default:
		return errdefs.NewUser(fmt.Sprintf("unknown rule action %q", change.Action)).
			WithDetail("rule_id", change.Rule.ID)
	}
}

// handleDataResponse runs every returned sample through the engine and
// dispatches whatever fires. Samples are also cached under the producing
// source's freshness window so other consumers can read them without
// another poll.
func (a *Agent) handleDataResponse(ctx context.Context, delivery *messaging.Delivery) error {
	response := delivery.Payload.(*DataRetrievalResponse)

	for metric, samples := range response.Data {
		if len(samples) == 0 {
			continue
		}
		a.cacheSamples(ctx, response.Source, metric, samples)
		for _, sample := range samples {
			for _, alert := range a.engine.Evaluate(ctx, metric, sample.Value, sample.Time()) {
				a.dispatchAlert(ctx, alert)
			}
		}
	}
	return nil
}

func (a *Agent) cacheSamples(ctx context.Context, source, metric string, samples []Sample) {
	key, ttl := sampleCacheKey(source, metric)
	if err := a.samples.Set(ctx, key, samples, ttl); err != nil {
		a.o11y.Logger().Warn(ctx, "sample cache write failed",
			observability.String("key", key),
			observability.Error(err),
		)
	}
}

// dispatchAlert publishes the alert on the bus and pushes it through the
// rule's notification channels. Neither failure nacks the delivery that
// produced the alert: the engine has already recorded the firing, and a
// redelivery would be swallowed by the cooldown anyway.
func (a *Agent) dispatchAlert(ctx context.Context, alert alerting.Alert) {
	if _, err := a.core.PublishEvent(ctx, alert, KeyAlert, ""); err != nil {
		a.o11y.Logger().Error(ctx, "alert publish failed",
			observability.String("rule_id", alert.RuleID),
			observability.Error(err),
		)
	}
	a.notifyChannels(ctx, alert)
}

// notifyChannels delivers the alert to the rule's channels behind the
// notifier breaker, retrying only the channels that failed. Exhausted
// retries are logged and dropped; the bus event remains the durable
// record of the alert.
func (a *Agent) notifyChannels(ctx context.Context, alert alerting.Alert) {
	rule, ok := a.engine.Rule(alert.RuleID)
	if !ok || len(rule.NotificationChannels) == 0 {
		return
	}

	pending := rule.NotificationChannels
	deliver := resilience.Compose(a.breakers.Get(notifierBreaker), a.notifyPolicy, notifyTimeout,
		func(ctx context.Context) (struct{}, error) {
			failures := a.notifier.Send(ctx, alert, pending)
			if len(failures) == 0 {
				return struct{}{}, nil
			}

			retry := make([]string, 0, len(failures))
			errs := make([]error, 0, len(failures))
			for id, err := range failures {
				errs = append(errs, err)
				if errdefs.IsRetryable(err) {
					retry = append(retry, id)
				}
			}
			sort.Strings(retry)
			if len(retry) == 0 {
				return struct{}{}, errdefs.NewUser("alert channels rejected delivery").
					WithCause(errors.Join(errs...))
			}
			pending = retry
			return struct{}{}, errdefs.NewSystem("alert delivery incomplete").
				WithDetail("channels", retry).
				WithCause(errors.Join(errs...))
		})

	if _, err := deliver(ctx); err != nil {
		a.o11y.Logger().Error(ctx, "alert notification failed",
			observability.String("rule_id", alert.RuleID),
			observability.String("severity", string(alert.Severity)),
			observability.Error(err),
		)
	}
}

// poll asks the retrieval agent for fresh samples of every metric the
// rules watch in one source class. Classes nobody watches are skipped.
func (a *Agent) poll(ctx context.Context, class string, source DataSource) error {
	metrics := a.watchedMetrics(class)
	if len(metrics) == 0 {
		return nil
	}

	request := DataRetrievalRequest{
		Sources: []DataSource{source},
		Metrics: metrics,
	}
	correlationID, err := a.core.PublishEvent(ctx, request, KeyDataRequest, "")
	if err != nil {
		return err
	}

	a.o11y.Logger().Debug(ctx, "metric poll requested",
		observability.String("source", source.Name),
		observability.Int("metrics", len(metrics)),
		observability.String("correlation_id", correlationID),
	)
	return nil
}

// watchedMetrics collects the metrics of enabled rules served by one
// source class, deduplicated and sorted for stable requests.
func (a *Agent) watchedMetrics(class string) []string {
	seen := map[string]bool{}
	var metrics []string
	for _, rule := range a.engine.Rules() {
		if !rule.Enabled {
			continue
		}
		metric := rule.Condition.Metric
		if metricClass(metric) != class || seen[metric] {
			continue
		}
		seen[metric] = true
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	return metrics
}
