// Package registry maps task ids to AtomicTask factories.
//
// The registry is populated by external registration (usually at startup)
// and consumed read-only by the engine, possibly from several simulation
// goroutines, so it is guarded by a RWMutex.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joeycumines/taskgraph/internal/task"
)

// Registry provides thread-safe storage for task factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]task.Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]task.Factory),
	}
}

// Register adds a factory under taskID, replacing any existing one.
func (r *Registry) Register(taskID string, factory task.Factory) error {
	if taskID == "" {
		return fmt.Errorf("registry: empty task id")
	}
	if factory == nil {
		return fmt.Errorf("registry: nil factory for %q", taskID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[taskID] = factory
	return nil
}

// MustRegister is Register that panics, for static registration.
func (r *Registry) MustRegister(taskID string, factory task.Factory) {
	if err := r.Register(taskID, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for taskID.
func (r *Registry) Lookup(taskID string) (task.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[taskID]
	return f, ok
}

// Create instantiates a new task for taskID. A factory returning nil is
// reported as an error.
func (r *Registry) Create(taskID string) (task.AtomicTask, error) {
	f, ok := r.Lookup(taskID)
	if !ok {
		return nil, fmt.Errorf("registry: unknown task %q", taskID)
	}
	t := f()
	if t == nil {
		return nil, fmt.Errorf("registry: factory for %q returned nil", taskID)
	}
	return t, nil
}

// IDs returns all registered ids in sorted order. Deterministic ordering
// keeps CLI output and tests stable.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Missing returns the ids in want that are not registered.
func (r *Registry) Missing(want []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range want {
		if _, ok := r.factories[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
