package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second

	// Consecutive half-open successes required before the circuit closes.
	halfOpenSuccessesToClose = 2
)

// BreakerConfig tunes a circuit breaker. Zero fields use the defaults above.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// OnStateChange, when set, runs on every transition. It is called with
	// the breaker's lock held and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return c
}

// Breaker prevents cascading failures by failing fast once a downstream
// dependency keeps erroring, and probing it again after a recovery window.
//
// Closed: failures increment a counter that any success resets; reaching the
// threshold opens the circuit. Open: every call fails fast with a retryable
// unavailable error until the recovery timeout elapses, then the next call
// moves the circuit to half-open. Half-open: exactly one probe call runs at a
// time, concurrent callers fail fast; a probe failure reopens the circuit,
// two consecutive probe successes close it.
type Breaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	probing     bool

	now func() time.Time
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Name returns the breaker's registered name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op through the breaker. When the circuit is open, or another
// probe is already in flight while half-open, op is not invoked and a
// retryable data-source error naming the breaker is returned. Otherwise op's
// outcome is recorded and its error returned as-is.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, moving an expired open circuit to
// half-open first.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
		b.successes = 0
		b.probing = false
	}

	switch b.state {
	case StateOpen:
		return errdefs.NewDataSource(b.name, fmt.Sprintf("circuit breaker %q is open", b.name))
	case StateHalfOpen:
		if b.probing {
			return errdefs.NewDataSource(b.name, fmt.Sprintf("circuit breaker %q is half-open with a probe in flight", b.name))
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		switch {
		case b.state == StateHalfOpen:
			b.transitionLocked(StateOpen)
		case b.state == StateClosed && b.failures >= b.config.FailureThreshold:
			b.transitionLocked(StateOpen)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= halfOpenSuccessesToClose {
			b.transitionLocked(StateClosed)
			b.failures = 0
			b.successes = 0
		}
		return
	}
	b.failures = 0
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	breakerTransitionsTotal.WithLabelValues(b.name, string(from), string(to)).Inc()
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// State returns the current state, promoting an expired open circuit to
// half-open the same way a call would.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
	b.probing = false
}

// BreakerSnapshot is a point-in-time view of a breaker, exposed on the ops
// endpoint.
type BreakerSnapshot struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	HalfOpenSuccess  int       `json:"half_open_successes"`
	FailureThreshold int       `json:"failure_threshold"`
	RecoveryTimeout  string    `json:"recovery_timeout"`
	LastFailure      time.Time `json:"last_failure"`
}

// Snapshot returns the breaker's current state and counters.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:             b.name,
		State:            b.state,
		Failures:         b.failures,
		HalfOpenSuccess:  b.successes,
		FailureThreshold: b.config.FailureThreshold,
		RecoveryTimeout:  b.config.RecoveryTimeout.String(),
		LastFailure:      b.lastFailure,
	}
}
