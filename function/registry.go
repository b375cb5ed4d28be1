package function

import (
	"sort"
	"sync"
)

// Registry maps function names to their capability objects.
//
// A registry is built once at startup and passed explicitly to graph
// construction; it is safe for concurrent reads.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
	order []string // preserves registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]Function),
	}
}

// Builtins returns a registry populated with every built-in function.
func Builtins() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// Register adds a function. If one with the same name already exists
// it is overwritten.
func (r *Registry) Register(f Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := f.Name()
	if _, exists := r.funcs[name]; !exists {
		r.order = append(r.order, name)
	}
	r.funcs[name] = f
}

// Get returns a function by name.
func (r *Registry) Get(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Has returns true if the name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// All returns all registered functions in registration order.
func (r *Registry) All() []Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Function, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.funcs[name])
	}
	return result
}

// Names returns the registered names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// MustGet returns a function by name and panics if it is not registered.
// It is intended for wiring built-ins in code and tests.
func (r *Registry) MustGet(name string) Function {
	f, ok := r.Get(name)
	if !ok {
		panic("function: " + name + " is not registered")
	}
	return f
}
