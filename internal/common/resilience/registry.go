package resilience

import (
	"sort"
	"sync"
)

// Registry holds the circuit breakers guarding the service's upstreams so
// the detailed health check can report them together
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Register adds breakers, replacing any registered under the same name
func (r *Registry) Register(cbs ...*CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range cbs {
		r.breakers[cb.Name()] = cb
	}
}

// Get returns the breaker registered under name, or nil
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// AllStats returns a snapshot of every breaker, sorted by name
func (r *Registry) AllStats() []CircuitBreakerStats {
	r.mu.RLock()
	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	r.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Open returns the sorted names of breakers currently rejecting calls
func (r *Registry) Open() []string {
	var open []string
	for _, s := range r.AllStats() {
		if s.State == StateOpen {
			open = append(open, s.Name)
		}
	}
	return open
}
