// Package monitoring holds the alert rule model, the evaluation engine,
// and the Redis rule store. Rules describe a threshold condition on a
// metric; the engine turns incoming samples into alerts, applying per-rule
// cooldowns and deviation-based severity.
package monitoring

import (
	"fmt"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
)

// Operator compares a sample against a rule threshold.
type Operator string

const (
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "="
)

// equalityTolerance bounds float comparison for OpEqual.
const equalityTolerance = 1e-2

// compare applies the operator. Unknown operators never match.
func (o Operator) compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		diff := value - threshold
		if diff < 0 {
			diff = -diff
		}
		return diff < equalityTolerance
	}
	return false
}

// normalizeOperator maps the legacy "==" spelling onto OpEqual.
func normalizeOperator(o Operator) Operator {
	if o == "==" {
		return OpEqual
	}
	return o
}

func validOperator(o Operator) bool {
	switch o {
	case OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual, OpEqual:
		return true
	}
	return false
}

// Severity of a fired alert, derived from how far the sample deviates
// from the threshold.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityFor grades the relative deviation |value-threshold|/threshold.
// Non-positive thresholds have no meaningful relative deviation and grade
// low.
func severityFor(value, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityLow
	}
	deviation := (value - threshold) / threshold
	if deviation < 0 {
		deviation = -deviation
	}
	switch {
	case deviation > 0.5:
		return SeverityCritical
	case deviation > 0.2:
		return SeverityHigh
	case deviation > 0.1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Condition is the threshold test of one rule.
type Condition struct {
	Metric    string   `json:"metric"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`

	// DurationSeconds is how long the condition must hold before firing.
	// Persisted for forward compatibility; a met condition currently
	// fires immediately.
	DurationSeconds int `json:"duration_seconds"`

	// CooldownSeconds is the minimum gap between two alerts of the same
	// rule.
	CooldownSeconds int `json:"cooldown_seconds"`
}

// Cooldown returns the condition's cooldown as a duration.
func (c Condition) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// Rule is a persisted alert rule.
type Rule struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Condition            Condition `json:"condition"`
	NotificationChannels []string  `json:"notification_channels"`
	Enabled              bool      `json:"enabled"`
}

// Validate rejects rules that could never evaluate. The operator is
// normalized in place so stored rules always carry the canonical spelling.
func (r *Rule) Validate() error {
	var bad []string
	if r.ID == "" {
		bad = append(bad, "id")
	}
	if r.Name == "" {
		bad = append(bad, "name")
	}
	if r.Condition.Metric == "" {
		bad = append(bad, "condition.metric")
	}
	r.Condition.Operator = normalizeOperator(r.Condition.Operator)
	if !validOperator(r.Condition.Operator) {
		bad = append(bad, "condition.operator")
	}
	if r.Condition.CooldownSeconds < 0 {
		bad = append(bad, "condition.cooldown_seconds")
	}
	if len(bad) > 0 {
		return errdefs.NewUser(fmt.Sprintf("alert rule has invalid fields: %v", bad)).
			WithDetail("rule_id", r.ID)
	}
	return nil
}

// Alert is one firing of a rule.
type Alert struct {
	ID               string    `json:"id"`
	RuleID           string    `json:"rule_id"`
	RuleName         string    `json:"rule_name"`
	Metric           string    `json:"metric"`
	Value            float64   `json:"value"`
	Threshold        float64   `json:"threshold"`
	Operator         Operator  `json:"operator"`
	Severity         Severity  `json:"severity"`
	Message          string    `json:"message"`
	SuggestedActions []string  `json:"suggested_actions,omitempty"`
	FiredAt          time.Time `json:"fired_at"`
}
