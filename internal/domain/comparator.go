package domain

import "sync"

// Comparator decides whether one performance objectively beats another.
// Implementations must be pure: no side effects, deterministic.
type Comparator interface {
	Superior(candidate, baseline Payload) bool
}

// ComparatorFunc adapts a function to the Comparator interface.
type ComparatorFunc func(candidate, baseline Payload) bool

// Superior implements Comparator.
func (f ComparatorFunc) Superior(candidate, baseline Payload) bool {
	return f(candidate, baseline)
}

// Registry maps activity kinds to comparators. Kinds without a registered
// comparator never resolve automatically.
type Registry struct {
	mu          sync.RWMutex
	comparators map[string]Comparator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{comparators: make(map[string]Comparator)}
}

// DefaultRegistry returns a registry with the built-in kinds installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindSet, SetComparator{})
	return r
}

// Register installs a comparator for a kind, replacing any existing one.
func (r *Registry) Register(kind string, c Comparator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comparators[kind] = c
}

// Lookup returns the comparator for a kind, if one is registered.
func (r *Registry) Lookup(kind string) (Comparator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.comparators[kind]
	return c, ok
}

// SetComparator orders logged sets: more reps wins; on equal reps, strictly
// more weight wins. Equal reps and equal weight is not superior.
type SetComparator struct{}

// Superior implements Comparator for the "set" kind.
func (SetComparator) Superior(candidate, baseline Payload) bool {
	c, ok := candidate.(SetPayload)
	if !ok {
		return false
	}
	b, ok := baseline.(SetPayload)
	if !ok {
		return false
	}
	if c.Reps != b.Reps {
		return c.Reps > b.Reps
	}
	return c.Weight > b.Weight
}
