package executors

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps backend names to executors. It is built once at startup and
// handed to the components that run jobs; there is no package-level instance.
type Registry struct {
	execs map[string]Executor
	mu    sync.RWMutex
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		execs: make(map[string]Executor),
	}
}

// Register adds or replaces an executor in the registry.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e == nil || e.Name() == "" {
		return fmt.Errorf("executor name cannot be empty")
	}
	r.execs[e.Name()] = e
	return nil
}

// Get retrieves an executor by name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.execs[name]
	return e, ok
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.execs))
	for name := range r.execs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.execs)
}
