package distribution

import (
	"sort"
	"sync"
)

// Registry maps distribution names to their capability objects.
//
// A registry is built once at startup and passed explicitly to graph
// construction; it is safe for concurrent reads.
type Registry struct {
	mu    sync.RWMutex
	dists map[string]Distribution
	order []string // preserves registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		dists: make(map[string]Distribution),
	}
}

// Builtins returns a registry populated with every built-in distribution.
func Builtins() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// Register adds a distribution. If one with the same name already exists
// it is overwritten.
func (r *Registry) Register(d Distribution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := d.Name()
	if _, exists := r.dists[name]; !exists {
		r.order = append(r.order, name)
	}
	r.dists[name] = d
}

// Get returns a distribution by name.
func (r *Registry) Get(name string) (Distribution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dists[name]
	return d, ok
}

// Has returns true if the name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dists[name]
	return ok
}

// All returns all registered distributions in registration order.
func (r *Registry) All() []Distribution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Distribution, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.dists[name])
	}
	return result
}

// Names returns the registered names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dists))
	for name := range r.dists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered distributions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dists)
}

// MustGet returns a distribution by name and panics if it is not registered.
func (r *Registry) MustGet(name string) Distribution {
	d, ok := r.Get(name)
	if !ok {
		panic("distribution: " + name + " is not registered")
	}
	return d
}

func registerBuiltins(r *Registry) {
	r.Register(Normal{})
	r.Register(Beta{})
	r.Register(Gamma{})
	r.Register(Exponential{})
	r.Register(Uniform{})
	r.Register(Bernoulli{})
	r.Register(Binomial{})
	r.Register(Poisson{})
	r.Register(Categorical{})
	r.Register(MNormal{})
}
