package circuitbreaker

import "sync"

// Registry holds one breaker per destination host, created on first use and
// named after the host so state-change hooks can tell them apart.
type Registry struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		config:   cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.config)
		r.breakers[key] = b
	}
	return b
}

// Snapshot returns the state of every breaker keyed by name.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	breakers := make(map[string]*Breaker, len(r.breakers))
	for k, b := range r.breakers {
		breakers[k] = b
	}
	r.mu.Unlock()

	// Read states outside the registry lock so Get never waits on a breaker.
	states := make(map[string]State, len(breakers))
	for k, b := range breakers {
		states[k] = b.State()
	}
	return states
}

// Stats counts breakers by state.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats summarises Snapshot.
func (r *Registry) Stats() Stats {
	var stats Stats
	for _, state := range r.Snapshot() {
		stats.Total++
		switch state {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		case Closed:
			stats.Closed++
		}
	}
	return stats
}
