// Package instrument attaches metrics to worker pools as the container
// constructs them, so no call site has to register a pool by hand.
package instrument

import (
	"maps"
	"reflect"
	"sync"

	"github.com/drblury/dispatchkit/internal/runtime/container"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
	"github.com/drblury/dispatchkit/internal/runtime/metrics"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
)

// registrationKey identifies an instrumented executor. Executors of
// non-comparable types are keyed by name tag alone.
type registrationKey struct {
	executor any
	nameTag  string
}

func keyFor(executor pool.Executor, nameTag string) registrationKey {
	if !reflect.TypeOf(executor).Comparable() {
		return registrationKey{nameTag: nameTag}
	}
	return registrationKey{executor: executor, nameTag: nameTag}
}

// Listener registers every named executor it is told about with a metrics
// monitor, at most once per (executor, name tag).
type Listener struct {
	monitor metrics.Monitor
	logger  loggingpkg.ServiceLogger

	mu         sync.Mutex
	registered map[registrationKey]struct{}
}

// NewListener returns a listener that reports to monitor.
func NewListener(monitor metrics.Monitor, logger loggingpkg.ServiceLogger) *Listener {
	if monitor == nil {
		panic("dispatchkit: metrics monitor cannot be nil")
	}
	return &Listener{
		monitor:    monitor,
		logger:     loggingpkg.OrNop(logger).With(loggingpkg.LogFields{"component": "instrumentation"}),
		registered: make(map[registrationKey]struct{}),
	}
}

// Hook adapts the listener to the container's observer list.
func (l *Listener) Hook() container.Hook {
	return container.Hook{
		Name: "executor-instrumentation",
		Match: func(ev container.Event) bool {
			_, ok := ev.Object.(pool.Executor)
			return ok
		},
		Action: func(ev container.Event) { l.OnProvisioned(ev) },
	}
}

// OnProvisioned inspects a freshly constructed object. It reports whether the
// object was handed to the monitor by this call.
func (l *Listener) OnProvisioned(ev container.Event) bool {
	executor, ok := ev.Object.(pool.Executor)
	if !ok {
		return false
	}
	if ev.NameTag == "" {
		l.logger.Info("Executor has no name tag, skipping instrumentation", loggingpkg.LogFields{
			"key":  ev.Key,
			"pool": executor.Name(),
		})
		return false
	}

	key := keyFor(executor, ev.NameTag)
	l.mu.Lock()
	if _, done := l.registered[key]; done {
		l.mu.Unlock()
		return false
	}
	l.registered[key] = struct{}{}
	l.mu.Unlock()

	tags := maps.Clone(ev.Tags)
	l.monitor.Monitor(executor, ev.NameTag, tags)
	l.logger.Debug("Instrumented executor", loggingpkg.LogFields{
		"key":      ev.Key,
		"name_tag": ev.NameTag,
	})
	return true
}

// Registered returns how many distinct (executor, name tag) pairs were instrumented.
func (l *Listener) Registered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.registered)
}
