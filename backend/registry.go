package backend

import (
	"sync"

	"github.com/hairizuan-noorazman/testflow/testcase"
)

// Registry maps backend types to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[testcase.Type]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[testcase.Type]Executor)}
}

// Register installs the executor for a type, replacing any previous one.
func (r *Registry) Register(t testcase.Type, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
}

// Lookup returns the executor for a type.
func (r *Registry) Lookup(t testcase.Type) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	return e, ok
}

// Types returns the registered types in canonical order.
func (r *Registry) Types() []testcase.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []testcase.Type
	for _, t := range testcase.Types {
		if _, ok := r.executors[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Finishers returns registered executors that hold per-run state.
func (r *Registry) Finishers() []RunFinisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RunFinisher
	for _, t := range testcase.Types {
		if f, ok := r.executors[t].(RunFinisher); ok {
			out = append(out, f)
		}
	}
	return out
}
