package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/observability/noop"
)

func testRule(id string, op Operator, threshold float64) Rule {
	return Rule{
		ID:   id,
		Name: id + " watcher",
		Condition: Condition{
			Metric:          "zcash.tx_count",
			Operator:        op,
			Threshold:       threshold,
			CooldownSeconds: 300,
		},
		NotificationChannels: []string{"webhook"},
		Enabled:              true,
	}
}

func TestEvaluateOperatorTable(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		threshold float64
		value     float64
		wantFire  bool
	}{
		{"greater fires above", OpGreater, 100, 101, true},
		{"greater silent at threshold", OpGreater, 100, 100, false},
		{"less fires below", OpLess, 100, 99, true},
		{"less silent above", OpLess, 100, 120, false},
		{"greater-or-equal fires at threshold", OpGreaterOrEqual, 100, 100, true},
		{"less-or-equal fires at threshold", OpLessOrEqual, 100, 100, true},
		{"equal fires within tolerance", OpEqual, 100, 100.005, true},
		{"equal silent outside tolerance", OpEqual, 100, 100.02, false},
		{"legacy double-equals normalized", "==", 100, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(noop.NewProvider())
			require.NoError(t, e.AddRule(testRule("r1", tt.op, tt.threshold)))

			alerts := e.Evaluate(context.Background(), "zcash.tx_count", tt.value, time.Time{})
			if tt.wantFire {
				assert.Len(t, alerts, 1)
			} else {
				assert.Empty(t, alerts)
			}
		})
	}
}

func TestEvaluateSeverityGrades(t *testing.T) {
	tests := []struct {
		name  string
		op    Operator
		value float64
		want  Severity
	}{
		{"sixty percent over", OpGreater, 160, SeverityCritical},
		{"thirty percent over", OpGreater, 130, SeverityHigh},
		{"twelve percent over", OpGreater, 112, SeverityMedium},
		{"five percent over", OpGreater, 105, SeverityLow},
		{"sixty percent under", OpLess, 40, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(noop.NewProvider())
			require.NoError(t, e.AddRule(testRule("r1", tt.op, 100)))

			alerts := e.Evaluate(context.Background(), "zcash.tx_count", tt.value, time.Time{})
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.want, alerts[0].Severity)
		})
	}
}

func TestCooldownSuppressesRefire(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	now := base
	e.now = func() time.Time { return now }

	require.NoError(t, e.AddRule(testRule("r1", OpGreater, 100)))

	assert.Len(t, e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{}), 1)

	now = base.Add(200 * time.Second)
	assert.Empty(t, e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{}))

	now = base.Add(301 * time.Second)
	assert.Len(t, e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{}), 1)
}

func TestDisabledRuleNeverFires(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	rule := testRule("r1", OpGreater, 100)
	rule.Enabled = false
	require.NoError(t, e.AddRule(rule))

	assert.Empty(t, e.Evaluate(context.Background(), "zcash.tx_count", 500, time.Time{}))
}

func TestEvaluateIgnoresOtherMetrics(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	require.NoError(t, e.AddRule(testRule("r1", OpGreater, 100)))

	assert.Empty(t, e.Evaluate(context.Background(), "zcash.shielded_pool", 500, time.Time{}))
}

func TestEveryMatchingRuleFires(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	require.NoError(t, e.AddRule(testRule("r1", OpGreater, 100)))
	require.NoError(t, e.AddRule(testRule("r2", OpGreater, 120)))

	alerts := e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{})
	assert.Len(t, alerts, 2)
}

func TestAddRuleRejectsInvalid(t *testing.T) {
	e := NewEngine(noop.NewProvider())

	rule := testRule("", OpGreater, 100)
	err := e.AddRule(rule)
	require.Error(t, err)
	derr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.KindUser, derr.Kind)

	rule = testRule("r1", "~", 100)
	require.Error(t, e.AddRule(rule))
}

func TestAddRuleNormalizesLegacyOperator(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	require.NoError(t, e.AddRule(testRule("r1", "==", 100)))

	got, ok := e.Rule("r1")
	require.True(t, ok)
	assert.Equal(t, OpEqual, got.Condition.Operator)
}

func TestAddRuleReplacesAndRestartsHistory(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	require.NoError(t, e.AddRule(testRule("r1", OpGreater, 100)))

	require.Len(t, e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{}), 1)
	require.Len(t, e.History("r1", 0), 1)

	updated := testRule("r1", OpGreater, 200)
	require.NoError(t, e.AddRule(updated))

	assert.Empty(t, e.History("r1", 0))
	got, ok := e.Rule("r1")
	require.True(t, ok)
	assert.Equal(t, 200.0, got.Condition.Threshold)
}

func TestRemoveRuleForgetsEverything(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	require.NoError(t, e.AddRule(testRule("r1", OpGreater, 100)))
	require.Len(t, e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{}), 1)

	e.RemoveRule("r1")

	assert.Empty(t, e.Rules())
	assert.Empty(t, e.History("r1", 0))
	assert.Empty(t, e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{}))
}

func TestHistoryIsCapped(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	rule := testRule("r1", OpGreater, 100)
	rule.Condition.CooldownSeconds = 0
	require.NoError(t, e.AddRule(rule))

	for i := 0; i < historyCap+5; i++ {
		require.Len(t, e.Evaluate(context.Background(), "zcash.tx_count", 150+float64(i), time.Time{}), 1)
	}

	all := e.History("r1", 0)
	require.Len(t, all, historyCap)
	// The oldest five fell off the front.
	assert.Equal(t, 155.0, all[0].Value)

	last := e.History("r1", 10)
	require.Len(t, last, 10)
	assert.Equal(t, float64(150+historyCap+4), last[9].Value)
}

func TestAlertCarriesFullContext(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	require.NoError(t, e.AddRule(testRule("r1", OpGreater, 1000)))

	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	alerts := e.Evaluate(context.Background(), "zcash.tx_count", 1520, at)
	require.Len(t, alerts, 1)

	alert := alerts[0]
	assert.Regexp(t, `^[0-9A-HJKMNP-TV-Z]{26}$`, alert.ID)
	assert.Equal(t, "r1", alert.RuleID)
	assert.Equal(t, "r1 watcher", alert.RuleName)
	assert.Equal(t, "zcash.tx_count", alert.Metric)
	assert.Equal(t, 1520.0, alert.Value)
	assert.Equal(t, 1000.0, alert.Threshold)
	assert.Equal(t, OpGreater, alert.Operator)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "zcash.tx_count=1520 breached > 1000", alert.Message)
	assert.Len(t, alert.SuggestedActions, 2)
	assert.True(t, alert.FiredAt.Equal(at))
}

func TestZeroSampleTimeUsesEngineClock(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	fixed := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	require.NoError(t, e.AddRule(testRule("r1", OpGreater, 100)))

	alerts := e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{})
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].FiredAt.Equal(fixed))
}

func TestAlertIDsAreUnique(t *testing.T) {
	e := NewEngine(noop.NewProvider())
	rule := testRule("r1", OpGreater, 100)
	rule.Condition.CooldownSeconds = 0
	require.NoError(t, e.AddRule(rule))

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		alerts := e.Evaluate(context.Background(), "zcash.tx_count", 150, time.Time{})
		require.Len(t, alerts, 1)
		require.False(t, seen[alerts[0].ID], "duplicate id %s", alerts[0].ID)
		seen[alerts[0].ID] = true
	}
}
