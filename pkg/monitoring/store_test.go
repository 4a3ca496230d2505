package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/observability/fake"
)

func newTestRuleStore(t *testing.T, o11y observability.Observability) (*RuleStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRuleStore(client, o11y), srv
}

func TestSaveAndLoadRule(t *testing.T) {
	st, srv := newTestRuleStore(t, fake.NewProvider())
	ctx := context.Background()

	rule := testRule("r1", OpGreater, 1000)
	require.NoError(t, st.SaveRule(ctx, rule))

	assert.True(t, srv.Exists("monitoring:rule:r1"))
	// Rules persist until deleted.
	assert.Equal(t, time.Duration(0), srv.TTL("monitoring:rule:r1"))

	got, err := st.LoadRule(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rule, *got)
}

func TestLoadRuleUnknown(t *testing.T) {
	st, _ := newTestRuleStore(t, fake.NewProvider())

	got, err := st.LoadRule(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadRulesReturnsAllSorted(t *testing.T) {
	st, _ := newTestRuleStore(t, fake.NewProvider())
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, st.SaveRule(ctx, testRule(id, OpGreater, 100)))
	}

	rules, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "alpha", rules[0].ID)
	assert.Equal(t, "mid", rules[1].ID)
	assert.Equal(t, "zeta", rules[2].ID)
}

func TestLoadRulesEmptyStore(t *testing.T) {
	st, _ := newTestRuleStore(t, fake.NewProvider())

	rules, err := st.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadRulesSkipsCorruptEntries(t *testing.T) {
	provider := fake.NewProvider()
	st, srv := newTestRuleStore(t, provider)
	ctx := context.Background()

	require.NoError(t, st.SaveRule(ctx, testRule("good", OpGreater, 100)))
	require.NoError(t, srv.Set("monitoring:rule:bad", "{oops"))

	rules, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "good", rules[0].ID)

	logger := provider.Logger().(*fake.FakeLogger)
	var warned bool
	for _, entry := range logger.GetEntries() {
		if entry.Message == "skipping corrupt alert rule" {
			warned = true
			assert.Equal(t, "monitoring:rule:bad", entry.Field("key"))
		}
	}
	assert.True(t, warned)
}

func TestDeleteRule(t *testing.T) {
	st, _ := newTestRuleStore(t, fake.NewProvider())
	ctx := context.Background()

	require.NoError(t, st.SaveRule(ctx, testRule("r1", OpGreater, 100)))
	require.NoError(t, st.DeleteRule(ctx, "r1"))

	got, err := st.LoadRule(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRuleStoreSurfacesRedisFailure(t *testing.T) {
	st, srv := newTestRuleStore(t, fake.NewProvider())
	srv.Close()

	_, err := st.LoadRules(context.Background())
	require.Error(t, err)
	derr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.CodeDatabaseError, derr.Code)
}
