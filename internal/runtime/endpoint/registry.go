// Package endpoint maps endpoint ids to the worker pool that serves them.
package endpoint

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
)

// Registry is populated during startup and read on every dispatch. Reads go
// through an immutable map swapped atomically, so Resolve never takes a lock.
type Registry struct {
	mu      sync.Mutex
	sealed  atomic.Bool
	entries atomic.Pointer[map[string]pool.Executor]
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]pool.Executor{}
	r.entries.Store(&empty)
	return r
}

// Register binds id to executor. Each id can be bound once, and only before Seal.
func (r *Registry) Register(id string, executor pool.Executor) error {
	if id == "" {
		return errspkg.ErrEndpointIDRequired
	}
	if executor == nil {
		return &errspkg.EndpointError{EndpointID: id, Err: errspkg.ErrPoolRequired}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return &errspkg.EndpointError{EndpointID: id, Err: errspkg.ErrRegistrySealed}
	}
	current := *r.entries.Load()
	if _, exists := current[id]; exists {
		return &errspkg.EndpointError{EndpointID: id, Err: errspkg.ErrDuplicateEndpoint}
	}

	next := maps.Clone(current)
	next[id] = executor
	r.entries.Store(&next)
	return nil
}

// Seal freezes the registry. Later Register calls fail with ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Resolve returns the executor bound to id.
func (r *Registry) Resolve(id string) (pool.Executor, error) {
	executor, ok := (*r.entries.Load())[id]
	if !ok {
		return nil, &errspkg.EndpointError{EndpointID: id, Err: errspkg.ErrUnknownEndpoint}
	}
	return executor, nil
}

// MustResolve is Resolve for wiring code that already validated the id.
func (r *Registry) MustResolve(id string) pool.Executor {
	executor, err := r.Resolve(id)
	if err != nil {
		panic(fmt.Sprintf("dispatchkit: %v", err))
	}
	return executor
}

// Endpoints returns the registered ids in lexical order.
func (r *Registry) Endpoints() []string {
	return slices.Sorted(maps.Keys(*r.entries.Load()))
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}
