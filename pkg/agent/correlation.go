package agent

import (
	"sync"
	"time"
)

// DefaultCorrelationMaxAge is how long a pending request entry survives
// before CleanupOldCorrelations reaps it.
const DefaultCorrelationMaxAge = time.Hour

// CorrelationEntry tracks one in-flight request: where it went, where the
// reply arrives, and caller context recovered when the reply lands.
type CorrelationEntry struct {
	RequestRoutingKey string
	ReplyRoutingKey   string
	Context           map[string]any
	CreatedAt         time.Time
}

// correlationRegistry is the in-process correlation-id map. All access is
// mutually exclusive; reaping only happens through an explicit reap call.
type correlationRegistry struct {
	mu      sync.RWMutex
	entries map[string]CorrelationEntry
	now     func() time.Time
}

func newCorrelationRegistry() *correlationRegistry {
	return &correlationRegistry{
		entries: make(map[string]CorrelationEntry),
		now:     time.Now,
	}
}

func (r *correlationRegistry) store(id string, entry CorrelationEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry
}

func (r *correlationRegistry) lookup(id string) (CorrelationEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

func (r *correlationRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// reap removes entries created before now-maxAge and returns the count.
func (r *correlationRegistry) reap(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultCorrelationMaxAge
	}
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, entry := range r.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(r.entries, id)
			reaped++
		}
	}
	return reaped
}

func (r *correlationRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]CorrelationEntry)
}

func (r *correlationRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
