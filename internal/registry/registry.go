// Package registry is the engine's composition root: a typed service
// locator with lazy factories. Components resolve their dependencies here
// exactly once during startup and hold plain references afterwards.
package registry

import (
	"fmt"
	"sync"
)

// Factory constructs a service, resolving its own dependencies through the
// registry it receives.
type Factory func(*Registry) (any, error)

// Registry holds named factories and the services they produced. Resolution
// is lazy; StartAll forces construction in registration order so the
// dependency DAG is validated at startup. Dependency cycles fail resolution.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	services  map[string]any
	building  map[string]bool
	order     []string
}

func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		services:  make(map[string]any),
		building:  make(map[string]bool),
	}
}

// Provide registers a factory under a unique name. Registering the same
// name twice is a programming error and panics.
func (r *Registry) Provide(name string, factory Factory) {
	if r == nil || factory == nil || name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("registry: duplicate service %q", name))
	}
	r.factories[name] = factory
	r.order = append(r.order, name)
}

// Resolve returns the named service, constructing it on first use. A factory
// that transitively resolves itself reports a cycle error.
func (r *Registry) Resolve(name string) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("registry: nil registry resolving %q", name)
	}
	r.mu.Lock()
	if service, ok := r.services[name]; ok {
		r.mu.Unlock()
		return service, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: unknown service %q", name)
	}
	if r.building[name] {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: dependency cycle through %q", name)
	}
	r.building[name] = true
	r.mu.Unlock()

	service, err := factory(r)

	r.mu.Lock()
	delete(r.building, name)
	if err == nil {
		r.services[name] = service
	}
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("registry: constructing %q: %w", name, err)
	}
	return service, nil
}

// StartAll eagerly constructs every registered service in registration
// order. The first failure aborts startup.
func (r *Registry) StartAll() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	names := append([]string(nil), r.order...)
	r.mu.Unlock()
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves a service and asserts its concrete type.
func Get[T any](r *Registry, name string) (T, error) {
	var zero T
	service, err := r.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("registry: service %q is %T not %T", name, service, zero)
	}
	return typed, nil
}

// MustGet is Get for composition-time wiring where a failure is fatal.
func MustGet[T any](r *Registry, name string) T {
	typed, err := Get[T](r, name)
	if err != nil {
		panic(err)
	}
	return typed
}
