package monitoring

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chimera-analytics/chimera/pkg/observability"
)

// historyCap bounds the per-rule alert history kept in memory.
const historyCap = 100

// Engine evaluates metric samples against the registered rules. Safe for
// concurrent use; rule mutation and evaluation may interleave freely.
type Engine struct {
	o11y observability.Observability

	mu        sync.Mutex
	rules     map[string]Rule
	history   map[string][]Alert
	lastFired map[string]time.Time

	now   func() time.Time
	newID func() string
}

// NewEngine returns an empty engine.
func NewEngine(o11y observability.Observability) *Engine {
	return &Engine{
		o11y:      o11y,
		rules:     make(map[string]Rule),
		history:   make(map[string][]Alert),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
		newID: func() string {
			return ulid.MustNew(ulid.Now(), rand.Reader).String()
		},
	}
}

// AddRule registers a rule, replacing any rule with the same id. The
// rule's alert history restarts; its cooldown clock does not, so editing a
// rule cannot unleash an alert storm.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.history[rule.ID] = nil
	e.mu.Unlock()

	e.o11y.Logger().Info(context.Background(), "alert rule added",
		observability.String("rule_id", rule.ID),
		observability.String("rule_name", rule.Name),
	)
	return nil
}

// RemoveRule drops a rule and everything remembered about it.
func (e *Engine) RemoveRule(ruleID string) {
	e.mu.Lock()
	_, existed := e.rules[ruleID]
	delete(e.rules, ruleID)
	delete(e.history, ruleID)
	delete(e.lastFired, ruleID)
	e.mu.Unlock()

	if existed {
		e.o11y.Logger().Info(context.Background(), "alert rule removed",
			observability.String("rule_id", ruleID),
		)
	}
}

// Rule returns a registered rule by id.
func (e *Engine) Rule(ruleID string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	return rule, ok
}

// Rules returns all registered rules.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule)
	}
	return out
}

// Evaluate runs a metric sample through every enabled rule watching that
// metric and returns the alerts it fired. Rules inside their cooldown
// window stay silent. A zero at stamps alerts with the engine clock.
func (e *Engine) Evaluate(ctx context.Context, metric string, value float64, at time.Time) []Alert {
	e.mu.Lock()
	now := e.now()
	if at.IsZero() {
		at = now
	}

	var fired []Alert
	for id, rule := range e.rules {
		if !rule.Enabled || rule.Condition.Metric != metric {
			continue
		}
		if !rule.Condition.Operator.compare(value, rule.Condition.Threshold) {
			continue
		}
		if last, ok := e.lastFired[id]; ok && now.Sub(last) < rule.Condition.Cooldown() {
			continue
		}

		alert := Alert{
			ID:        e.newID(),
			RuleID:    id,
			RuleName:  rule.Name,
			Metric:    metric,
			Value:     value,
			Threshold: rule.Condition.Threshold,
			Operator:  rule.Condition.Operator,
			Severity:  severityFor(value, rule.Condition.Threshold),
			Message: fmt.Sprintf("%s=%g breached %s %g", metric, value,
				rule.Condition.Operator, rule.Condition.Threshold),
			SuggestedActions: []string{
				fmt.Sprintf("Review %s data for anomalies", metric),
				"Check related metrics for correlation",
			},
			FiredAt: at,
		}
		fired = append(fired, alert)

		e.history[id] = append(e.history[id], alert)
		if len(e.history[id]) > historyCap {
			e.history[id] = e.history[id][len(e.history[id])-historyCap:]
		}
		e.lastFired[id] = now
	}
	e.mu.Unlock()

	for _, alert := range fired {
		alertsFiredTotal.WithLabelValues(string(alert.Severity), alert.Metric).Inc()
		e.o11y.Logger().Warn(ctx, "alert fired",
			observability.String("rule_id", alert.RuleID),
			observability.String("rule_name", alert.RuleName),
			observability.String("metric", alert.Metric),
			observability.Float64("value", alert.Value),
			observability.Float64("threshold", alert.Threshold),
			observability.String("severity", string(alert.Severity)),
		)
	}
	return fired
}

// History returns a rule's most recent alerts, oldest first. A
// non-positive limit returns everything retained.
func (e *Engine) History(ruleID string, limit int) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	alerts := e.history[ruleID]
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	out := make([]Alert, len(alerts))
	copy(out, alerts)
	return out
}
