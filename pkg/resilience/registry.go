package resilience

import (
	"context"
	"sort"
	"sync"

	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/observability/noop"
)

// Registry holds named circuit breakers so operational endpoints can inspect
// them and call sites can share one breaker per dependency.
type Registry struct {
	o11y     observability.Observability
	defaults BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry. Breakers it lazily creates use defaults and
// log their state transitions through o11y.
func NewRegistry(o11y observability.Observability, defaults BreakerConfig) *Registry {
	return &Registry{
		o11y:     o11y,
		defaults: defaults,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker registered under name, creating one with the
// registry defaults on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.breakerConfig())
	r.breakers[name] = b
	return b
}

// Register places an externally-constructed breaker in the registry,
// replacing any breaker with the same name.
func (r *Registry) Register(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
}

// Snapshot returns the state of every registered breaker, sorted by name.
func (r *Registry) Snapshot() []BreakerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]BreakerSnapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snapshots = append(snapshots, b.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots
}

func (r *Registry) breakerConfig() BreakerConfig {
	config := r.defaults
	userHook := config.OnStateChange
	config.OnStateChange = func(name string, from, to State) {
		r.o11y.Logger().Warn(context.Background(), "circuit breaker state changed",
			observability.String("breaker", name),
			observability.String("from", string(from)),
			observability.String("to", string(to)),
		)
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	return config
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide registry. Agents that do not wire
// their own registry share this one; its breakers do not log transitions.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(noop.NewProvider(), BreakerConfig{})
	})
	return defaultRegistry
}
