package provider

import (
	"sort"
	"sync"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

// Entry is a registered provider plus its waterfall position and
// operational state.
type Entry struct {
	Provider Provider
	Priority int // lower value = tried earlier
	disabled bool
}

// Status is a point-in-time view of one provider for dashboards and the
// providers command.
type Status struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Kinds        []model.EntityKind `json:"kinds"`
	Priority     int               `json:"priority"`
	Health       Health            `json:"health"`
	BreakerState string            `json:"breaker_state"`
	Tokens       float64           `json:"tokens"`
}

// Registry manages configured providers, their priority order per kind,
// their circuit breakers, and the shared rate limiters.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	breakers *resilience.ProviderBreakers
	limits   *RateLimits
}

// NewRegistry creates an empty provider registry.
func NewRegistry(breakerCfg resilience.CircuitBreakerConfig) *Registry {
	return &Registry{
		entries:  make(map[string]*Entry),
		breakers: resilience.NewProviderBreakers(breakerCfg),
		limits:   NewRateLimits(),
	}
}

// Register adds a provider at the given waterfall priority with the given
// rate budget.
func (r *Registry) Register(p Provider, priority int, perSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.Name()] = &Entry{Provider: p, Priority: priority}
	r.limits.Set(p.Name(), perSecond, burst)
}

// Disable administratively removes a provider from the waterfall without
// unregistering it.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.disabled = true
	}
}

// Get returns a provider by name, or nil if not registered.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.Provider
	}
	return nil
}

// Breaker returns the circuit breaker for the named provider.
func (r *Registry) Breaker(name string) *resilience.CircuitBreaker {
	return r.breakers.Get(name)
}

// Limits returns the shared rate limiter set.
func (r *Registry) Limits() *RateLimits {
	return r.limits
}

// Health derives a provider's health from its admin flag and breaker
// state: disabled flag or open circuit = disabled, half-open = degraded.
func (r *Registry) Health(name string) Health {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok || e.disabled {
		return Disabled
	}
	switch r.breakers.Get(name).State() {
	case resilience.CircuitOpen:
		return Disabled
	case resilience.CircuitHalfOpen:
		return Degraded
	default:
		return Healthy
	}
}

// ForKind returns providers supporting the given kind in priority order,
// optionally restricted to a caller-supplied provider set. Disabled
// providers are included; the waterfall decides whether to skip, so the
// skip shows up in provenance.
func (r *Registry) ForKind(kind model.EntityKind, providerSet []string) []Provider {
	allowed := map[string]bool{}
	for _, name := range providerSet {
		allowed[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.entries))
	for name, e := range r.entries {
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		if !Supports(e.Provider, kind) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].Provider.Name() < entries[j].Provider.Name()
	})

	out := make([]Provider, len(entries))
	for i, e := range entries {
		out[i] = e.Provider
	}
	return out
}

// Priority returns the registered waterfall priority for a provider name.
// Unregistered names sort last.
func (r *Registry) Priority(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.Priority
	}
	return int(^uint(0) >> 1)
}

// Statuses returns a snapshot of every registered provider.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		e := r.entries[name]
		r.mu.RUnlock()
		out = append(out, Status{
			Name:         name,
			Version:      e.Provider.Version(),
			Kinds:        e.Provider.Kinds(),
			Priority:     e.Priority,
			Health:       r.Health(name),
			BreakerState: r.breakers.Get(name).State().String(),
			Tokens:       r.limits.Tokens(name),
		})
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
