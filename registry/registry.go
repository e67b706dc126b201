// Package registry holds the process-lifetime mapping from a registered
// function name to its callable implementation, plus the per-function
// circuit breaker the executor consults before dispatch.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/swarmguard/flowengine/internal/resilience"
)

// Func is a registered task function: it receives the resolved parameter
// bag for one task invocation and returns a serializable value, or an error.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Registry is a concurrency-safe name -> Func table. Reads are expected to
// dominate once a process has finished wiring up its built-in functions;
// writes typically happen only during setup.
type Registry struct {
	mu       sync.RWMutex
	fns      map[string]Func
	breakers map[string]*resilience.CircuitBreaker
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		fns:      make(map[string]Func),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// Register adds or replaces the function stored under name. Registration is
// idempotent: the last call for a given name wins.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
	if _, ok := r.breakers[name]; !ok {
		r.breakers[name] = resilience.NewCircuitBreaker(30*time.Second, 6, 5, 0.5, 10*time.Second, 2)
	}
}

// Lookup returns the function registered under name, or an error if none is
// registered.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	if !ok {
		return nil, fmt.Errorf("registry: function %q is not registered", name)
	}
	return fn, nil
}

// Breaker returns the circuit breaker guarding calls to the named function.
// It exists even before Register is called, so callers that only check
// admission (rather than invoke) don't need a prior registration.
func (r *Registry) Breaker(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = resilience.NewCircuitBreaker(30*time.Second, 6, 5, 0.5, 10*time.Second, 2)
		r.breakers[name] = b
	}
	return b
}

// List returns the registered function names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
