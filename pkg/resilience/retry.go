// Package resilience provides the primitives agents wrap around calls to
// external services: retry with pluggable backoff, circuit breakers, graceful
// fallback and per-attempt timeouts. The primitives compose; see Compose for
// the canonical stacking order.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
)

// Strategy selects how the delay between attempts grows.
type Strategy string

const (
	// StrategyExponential doubles the delay each attempt: base * 2^attempt,
	// capped at MaxDelay, optionally jittered by ±25%.
	StrategyExponential Strategy = "exponential"
	// StrategyLinear grows the delay by the base each attempt:
	// base * (attempt+1), capped at MaxDelay.
	StrategyLinear Strategy = "linear"
	// StrategyConstant waits the base delay between every attempt.
	StrategyConstant Strategy = "constant"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 60 * time.Second

	jitterFactor = 0.25
)

// Policy describes how an operation is retried. The zero value is usable:
// missing fields fall back to the defaults above, RetryIf falls back to
// errdefs.IsRetryable.
type Policy struct {
	MaxAttempts int
	Strategy    Strategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// RetryIf decides whether a failed attempt is worth repeating. The
	// default honors the domain error retryable flag and treats unknown
	// errors as transient.
	RetryIf func(error) bool
}

// DefaultPolicy returns the policy agents use unless a call site needs
// something tighter: three attempts, exponential backoff from one second,
// jittered.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Strategy:    StrategyExponential,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      true,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Strategy == "" {
		p.Strategy = StrategyExponential
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.RetryIf == nil {
		p.RetryIf = errdefs.IsRetryable
	}
	return p
}

// backOff builds the delay sequence for one retry run. The returned value is
// not safe for reuse across runs.
func (p Policy) backOff() backoff.BackOff {
	switch p.Strategy {
	case StrategyConstant:
		return backoff.NewConstantBackOff(p.BaseDelay)
	case StrategyLinear:
		return &linearBackOff{base: p.BaseDelay, max: p.MaxDelay}
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.BaseDelay
		b.MaxInterval = p.MaxDelay
		b.Multiplier = 2
		b.RandomizationFactor = 0
		if p.Jitter {
			b.RandomizationFactor = jitterFactor
		}
		// Attempts are bounded by MaxAttempts, not wall time.
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// linearBackOff waits base * (attempt+1) between attempts, capped at max.
type linearBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	delay := b.base * time.Duration(b.attempt+1)
	if b.max > 0 && delay > b.max {
		delay = b.max
	}
	b.attempt++
	return delay
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Retry runs op until it succeeds, the policy is exhausted, or ctx is done.
// Sleeps between attempts honor ctx cancellation. An error the policy's
// RetryIf rejects stops the run immediately after a single invocation and is
// returned unwrapped.
func Retry(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryWithResult is Retry for operations that produce a value. On failure it
// returns the zero value together with the last attempt's error.
func RetryWithResult[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	attempt := func() (T, error) {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !policy.RetryIf(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy.backOff(), uint64(policy.MaxAttempts-1)), ctx)
	return backoff.RetryWithData(attempt, b)
}
