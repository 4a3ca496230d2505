package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/observability/noop"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, noop.NewProvider(), opts...), srv
}

func TestAppendQueryCreatesSession(t *testing.T) {
	st, srv := newTestStore(t)
	ctx := context.Background()

	sc, err := st.AppendQuery(ctx, "sess-1", "show btc price",
		Intent{Type: "market_data", Metrics: []string{"price"}},
		[]Entity{{Type: EntityCrypto, Value: "BTC"}},
	)
	require.NoError(t, err)
	require.NotNil(t, sc)

	assert.Equal(t, "sess-1", sc.SessionID)
	assert.False(t, sc.CreatedAt.IsZero())
	assert.False(t, sc.LastUpdated.IsZero())
	require.Len(t, sc.QueryHistory, 1)
	assert.Equal(t, "show btc price", sc.QueryHistory[0].Query)

	assert.True(t, srv.Exists("chimera:context:sess-1"))

	got, err := st.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.QueryHistory, 1)
	assert.Equal(t, []Entity{{Type: EntityCrypto, Value: "BTC"}}, got.QueryHistory[0].Entities)
}

func TestGetUnknownSessionReturnsNil(t *testing.T) {
	st, _ := newTestStore(t)

	got, err := st.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHistoryKeepsOnlyNewestTen(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := st.AppendQuery(ctx, "sess-1", fmt.Sprintf("query %d", i), Intent{}, nil)
		require.NoError(t, err)
	}

	got, err := st.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.QueryHistory, 10)
	assert.Equal(t, "query 2", got.QueryHistory[0].Query)
	assert.Equal(t, "query 11", got.QueryHistory[9].Query)
}

func TestGetSlidesTTL(t *testing.T) {
	st, srv := newTestStore(t, WithTTL(10*time.Minute))
	ctx := context.Background()

	_, err := st.AppendQuery(ctx, "sess-1", "hello", Intent{}, nil)
	require.NoError(t, err)

	srv.FastForward(6 * time.Minute)
	assert.Equal(t, 4*time.Minute, srv.TTL("chimera:context:sess-1"))

	got, err := st.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10*time.Minute, srv.TTL("chimera:context:sess-1"))
}

func TestSessionExpiresAfterTTLOfSilence(t *testing.T) {
	st, srv := newTestStore(t, WithTTL(10*time.Minute))
	ctx := context.Background()

	_, err := st.AppendQuery(ctx, "sess-1", "hello", Intent{}, nil)
	require.NoError(t, err)

	srv.FastForward(10*time.Minute + time.Second)

	got, err := st.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtendTTLRestartsExpiry(t *testing.T) {
	st, srv := newTestStore(t, WithTTL(10*time.Minute))
	ctx := context.Background()

	_, err := st.AppendQuery(ctx, "sess-1", "hello", Intent{}, nil)
	require.NoError(t, err)

	srv.FastForward(9 * time.Minute)
	require.NoError(t, st.ExtendTTL(ctx, "sess-1"))
	assert.Equal(t, 10*time.Minute, srv.TTL("chimera:context:sess-1"))
}

func TestSaveStampsLastUpdated(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	require.NoError(t, st.Save(ctx, "sess-1", &Context{CreatedAt: fixed}))

	got, err := st.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.True(t, got.LastUpdated.Equal(fixed))
}

func TestUpdateCreatesAbsentSession(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	sc, err := st.Update(ctx, "sess-1", func(sc *Context) {})
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "sess-1", sc.SessionID)
	assert.False(t, sc.CreatedAt.IsZero())
	assert.Empty(t, sc.QueryHistory)
}

func TestClearForgetsSession(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.AppendQuery(ctx, "sess-1", "hello", Intent{}, nil)
	require.NoError(t, err)

	require.NoError(t, st.Clear(ctx, "sess-1"))

	got, err := st.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtractForQueryDistillsRecentHistory(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	// The first query falls outside the three-record window: neither its
	// time range nor its kraken entity may leak into the extraction.
	queries := []struct {
		query    string
		intent   Intent
		entities []Entity
	}{
		{
			query:    "price on kraken",
			intent:   Intent{Metrics: []string{"price"}, TimeRange: &TimeRange{Start: 1, End: 2}},
			entities: []Entity{{Type: EntityExchange, Value: "kraken"}},
		},
		{
			query:    "btc on kraken last day",
			intent:   Intent{Metrics: []string{"price"}, TimeRange: &TimeRange{Start: 100, End: 200}},
			entities: []Entity{{Type: EntityCrypto, Value: "BTC"}, {Type: EntityExchange, Value: "kraken"}},
		},
		{
			query:    "btc volume",
			intent:   Intent{Metrics: []string{"volume"}},
			entities: []Entity{{Type: EntityCrypto, Value: "BTC"}, {Type: EntityExchange, Value: "binance"}},
		},
		{
			query:    "eth volume and tvl",
			intent:   Intent{Metrics: []string{"volume", "tvl"}},
			entities: []Entity{{Type: EntityCrypto, Value: "ETH"}},
		},
	}
	for _, q := range queries {
		_, err := st.AppendQuery(ctx, "sess-1", q.query, q.intent, q.entities)
		require.NoError(t, err)
	}

	ext, err := st.ExtractForQuery(ctx, "sess-1")
	require.NoError(t, err)

	require.NotNil(t, ext.LastQuery)
	assert.Equal(t, "eth volume and tvl", ext.LastQuery.Query)
	assert.Equal(t, 4, ext.QueryCount)

	// Only BTC recurs within the window; kraken's two mentions straddle it.
	assert.Equal(t, []Entity{{Type: EntityCrypto, Value: "BTC"}}, ext.RecentEntities)

	require.NotNil(t, ext.TimeRange)
	assert.Equal(t, TimeRange{Start: 100, End: 200}, *ext.TimeRange)

	// Newest first, duplicates collapsed onto their first occurrence.
	assert.Equal(t, []string{"volume", "tvl", "price"}, ext.Metrics)
}

func TestExtractForQueryUnknownSession(t *testing.T) {
	st, _ := newTestStore(t)

	ext, err := st.ExtractForQuery(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, ext)
}

func TestMergeIntoInheritsTimeRangeAndMetrics(t *testing.T) {
	ext := Extracted{
		TimeRange: &TimeRange{Start: 100, End: 200},
		Metrics:   []string{"price", "volume"},
	}
	current := []Entity{{Type: EntityCrypto, Value: "BTC"}}

	merged := ext.MergeInto(current)

	require.Len(t, merged, 4)
	assert.Equal(t, Entity{Type: EntityCrypto, Value: "BTC"}, merged[0])
	assert.Equal(t, EntityTimeRange, merged[1].Type)
	assert.Equal(t, "100..200", merged[1].Value)
	assert.Equal(t, "context", merged[1].Source)
	require.NotNil(t, merged[1].Resolved)
	assert.Equal(t, TimeRange{Start: 100, End: 200}, *merged[1].Resolved)
	assert.Equal(t, Entity{Type: EntityMetric, Value: "price", Source: "context"}, merged[2])
	assert.Equal(t, Entity{Type: EntityMetric, Value: "volume", Source: "context"}, merged[3])

	// The caller's slice is left alone.
	assert.Len(t, current, 1)
}

func TestMergeIntoKeepsExplicitTimeRange(t *testing.T) {
	ext := Extracted{TimeRange: &TimeRange{Start: 100, End: 200}}
	current := []Entity{
		{Type: EntityCrypto, Value: "BTC"},
		{Type: EntityTimeRange, Value: "24h"},
	}

	merged := ext.MergeInto(current)

	assert.Equal(t, current, merged)
}

func TestMergeIntoKeepsExplicitMetrics(t *testing.T) {
	ext := Extracted{Metrics: []string{"price", "volume"}}
	current := []Entity{{Type: EntityMetric, Value: "tvl"}}

	merged := ext.MergeInto(current)

	assert.Equal(t, current, merged)
}

func TestGetRejectsCorruptContext(t *testing.T) {
	st, srv := newTestStore(t)

	require.NoError(t, srv.Set("chimera:context:sess-1", "{not json"))

	_, err := st.Get(context.Background(), "sess-1")
	require.Error(t, err)
	derr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.CodeInvalidDataFormat, derr.Code)
}

func TestStoreSurfacesRedisFailures(t *testing.T) {
	st, srv := newTestStore(t)
	srv.Close()

	_, err := st.Get(context.Background(), "sess-1")
	require.Error(t, err)
	derr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.CodeDatabaseError, derr.Code)
	assert.True(t, derr.Retryable)
}
