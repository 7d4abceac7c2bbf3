// Package container is a small dependency container for the runtime. It builds
// singletons from bindings, announces every constructed object to registered
// hooks, and tears objects down in reverse construction order.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
)

// Provider builds the object behind a binding. It may resolve other bindings through c.
type Provider func(ctx context.Context, c *Container) (any, error)

// Binding describes one managed singleton.
type Binding struct {
	Key string
	// NameTag is forwarded to hooks. Empty means the object is unnamed.
	NameTag string
	Tags    map[string]string
	Provide Provider
}

// Event is emitted synchronously right after a binding is constructed.
type Event struct {
	Key           string
	Object        any
	NameTag       string
	Tags          map[string]string
	ProvisionedAt time.Time
}

// Hook reacts to provisioning events whose object it matches. Action runs on
// the constructing goroutine and must not block on the object it receives.
type Hook struct {
	Name   string
	Match  func(Event) bool
	Action func(Event)
}

// Shutdowner is implemented by objects that need a bounded teardown.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

type instance struct {
	key    string
	object any
}

// Container owns bindings, the singletons built from them and the hook list.
type Container struct {
	logger loggingpkg.ServiceLogger

	mu           sync.Mutex
	order        []string
	bindings     map[string]Binding
	singletons   map[string]any
	constructing map[string]chan struct{}
	built        []instance
	hooks        []Hook
	closed       bool
}

// New returns an empty container.
func New(logger loggingpkg.ServiceLogger) *Container {
	return &Container{
		logger:       loggingpkg.OrNop(logger).With(loggingpkg.LogFields{"component": "container"}),
		bindings:     make(map[string]Binding),
		singletons:   make(map[string]any),
		constructing: make(map[string]chan struct{}),
	}
}

// Bind registers a binding. Keys are unique.
func (c *Container) Bind(b Binding) error {
	if strings.TrimSpace(b.Key) == "" {
		return errspkg.ErrBindingKeyRequired
	}
	if b.Provide == nil {
		return fmt.Errorf("%w: %q", errspkg.ErrProviderRequired, b.Key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errspkg.ErrContainerClosed
	}
	if _, exists := c.bindings[b.Key]; exists {
		return fmt.Errorf("%w: %q", errspkg.ErrDuplicateBinding, b.Key)
	}
	b.Tags = maps.Clone(b.Tags)
	c.bindings[b.Key] = b
	c.order = append(c.order, b.Key)
	return nil
}

// AddHook appends a hook. Hooks only see objects constructed after they were added.
func (c *Container) AddHook(h Hook) {
	if h.Action == nil {
		return
	}
	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

type chainKey struct{}

// chain returns the keys being provisioned on the calling path.
func chain(ctx context.Context) []string {
	keys, _ := ctx.Value(chainKey{}).([]string)
	return keys
}

// Get returns the singleton for key, constructing it on first use. Concurrent
// callers for the same key wait for the first construction to finish.
func (c *Container) Get(ctx context.Context, key string) (any, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, errspkg.ErrContainerClosed
		}
		if obj, ok := c.singletons[key]; ok {
			c.mu.Unlock()
			return obj, nil
		}
		b, ok := c.bindings[key]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownBinding, key)
		}
		if slices.Contains(chain(ctx), key) {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s -> %s", errspkg.ErrCircularBinding, strings.Join(chain(ctx), " -> "), key)
		}
		if wait, busy := c.constructing[key]; busy {
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.constructing[key] = done
		c.mu.Unlock()

		return c.construct(ctx, b, done)
	}
}

func (c *Container) construct(ctx context.Context, b Binding, done chan struct{}) (any, error) {
	defer close(done)

	path := append(slices.Clone(chain(ctx)), b.Key)
	obj, err := c.provide(context.WithValue(ctx, chainKey{}, path), b)

	c.mu.Lock()
	delete(c.constructing, b.Key)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("provision %q: %w", b.Key, err)
	}
	c.singletons[b.Key] = obj
	c.built = append(c.built, instance{key: b.Key, object: obj})
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()

	c.logger.Debug("Provisioned binding", loggingpkg.LogFields{"key": b.Key, "name_tag": b.NameTag})
	c.notify(hooks, Event{
		Key:           b.Key,
		Object:        obj,
		NameTag:       b.NameTag,
		Tags:          maps.Clone(b.Tags),
		ProvisionedAt: time.Now(),
	})
	return obj, nil
}

// provide turns a provider panic into a *PanicError so the key is released
// and the next Get retries the construction.
func (c *Container) provide(ctx context.Context, b Binding) (obj any, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, &errspkg.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return b.Provide(ctx, c)
}

// Start eagerly constructs every binding in bind order.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	keys := append([]string(nil), c.order...)
	c.mu.Unlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Get(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns binding keys in bind order.
func (c *Container) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Close tears down constructed objects in reverse order. Objects implementing
// Shutdowner get ctx; io.Closer is used otherwise. All failures are joined.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	built := c.built
	c.built = nil
	c.mu.Unlock()

	var errs []error
	for i := len(built) - 1; i >= 0; i-- {
		inst := built[i]
		var err error
		switch obj := inst.object.(type) {
		case Shutdowner:
			err = obj.Shutdown(ctx)
		case io.Closer:
			err = obj.Close()
		default:
			continue
		}
		if err != nil {
			c.logger.Error("Failed to tear down binding", err, loggingpkg.LogFields{"key": inst.key})
			errs = append(errs, fmt.Errorf("teardown %q: %w", inst.key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) notify(hooks []Hook, ev Event) {
	for _, h := range hooks {
		if h.Match != nil && !h.Match(ev) {
			continue
		}
		c.runHook(h, ev)
	}
}

func (c *Container) runHook(h Hook, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Provisioning hook panicked", &errspkg.PanicError{Value: r, Stack: string(debug.Stack())}, loggingpkg.LogFields{
				"hook": h.Name,
				"key":  ev.Key,
			})
		}
	}()
	h.Action(ev)
}

// Resolve fetches key and asserts it to T.
func Resolve[T any](ctx context.Context, c *Container, key string) (T, error) {
	var zero T
	obj, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("dispatchkit: binding %q is %T, not %T", key, obj, zero)
	}
	return typed, nil
}
