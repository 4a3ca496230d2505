package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
)

func TestComposeRetriesWithoutTrippingBreaker(t *testing.T) {
	b := NewBreaker("market-data", BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	policy := Policy{MaxAttempts: 3, Strategy: StrategyConstant, BaseDelay: time.Millisecond}

	calls := 0
	load := Compose(b, policy, 0, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errdefs.NewDataSource("coingecko", "flaky")
		}
		return "price", nil
	})

	value, err := load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "price", value)
	assert.Equal(t, 3, calls)

	// Two failed attempts inside one successful logical call leave the
	// breaker untouched.
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)
}

func TestComposeBreakerCountsLogicalOutcomes(t *testing.T) {
	b := NewBreaker("onchain", BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	policy := Policy{MaxAttempts: 2, Strategy: StrategyConstant, BaseDelay: time.Millisecond}

	calls := 0
	load := Compose(b, policy, 0, func(ctx context.Context) (string, error) {
		calls++
		return "", errdefs.NewDataSource("etherscan", "down")
	})
	ctx := context.Background()

	_, err := load(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateClosed, b.State())

	_, err = load(ctx)
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, StateOpen, b.State())

	// Fast-fail: neither the retry loop nor the operation runs.
	_, err = load(ctx)
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	domainErr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.CodeDataSourceUnavailable, domainErr.Code)
}

func TestComposeTimeoutBoundsEachAttempt(t *testing.T) {
	policy := Policy{MaxAttempts: 2, Strategy: StrategyConstant, BaseDelay: time.Millisecond}

	calls := 0
	load := Compose(nil, policy, 15*time.Millisecond, func(ctx context.Context) (string, error) {
		calls++
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	start := time.Now()
	_, err := load(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Less(t, elapsed, 500*time.Millisecond)

	domainErr, ok := errdefs.As(err)
	require.True(t, ok)
	assert.Equal(t, errdefs.CodeDataSourceTimeout, domainErr.Code)
}

func TestComposeNilBreakerSkipsCircuit(t *testing.T) {
	policy := Policy{MaxAttempts: 2, Strategy: StrategyConstant, BaseDelay: time.Millisecond}

	calls := 0
	load := Compose(nil, policy, 0, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errdefs.NewSystem("blip")
		}
		return 7, nil
	})

	value, err := load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, 2, calls)
}
