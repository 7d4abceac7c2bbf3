// Package metrics exposes worker pool statistics through an explicit
// Prometheus registry and an in-process snapshot.
package metrics

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
)

const (
	namespace = "dispatchkit"
	subsystem = "executor"

	// NameLabel carries the pool's name tag on every series.
	NameLabel = "name"
)

// Source is anything that can report pool statistics.
type Source interface {
	Stats() pool.Stats
}

// Monitor is the contract the instrumentation listener depends on.
type Monitor interface {
	Monitor(source Source, nameTag string, tags map[string]string)
}

// ExecutorMetrics is the metric view of one monitored pool.
type ExecutorMetrics struct {
	NameTag        string            `json:"name_tag"`
	Tags           map[string]string `json:"tags,omitempty"`
	PoolSize       int               `json:"pool_size"`
	CoreThreads    int               `json:"core_threads"`
	MaxThreads     int               `json:"max_threads"`
	ActiveThreads  int               `json:"active_threads"`
	IdleThreads    int               `json:"idle_threads"`
	QueuedTasks    int               `json:"queued_tasks"`
	CompletedTasks int64             `json:"completed_tasks"`
	RejectedTasks  int64             `json:"rejected_tasks"`
	FailedTasks    int64             `json:"failed_tasks"`
	// Exported is false when the Prometheus registerer refused the collector.
	Exported bool `json:"exported"`
}

// Snapshot is a point-in-time view of every monitored pool.
type Snapshot struct {
	Executors   map[string]ExecutorMetrics `json:"executors"`
	CollectedAt time.Time                  `json:"collected_at"`
}

// Values flattens the snapshot into `metric{name="tag"}` keys.
func (s Snapshot) Values() map[string]float64 {
	values := make(map[string]float64, len(s.Executors)*len(metricDefs))
	for tag, m := range s.Executors {
		for _, def := range metricDefs {
			values[seriesKey(def.name, tag)] = def.value(m)
		}
	}
	return values
}

// SeriesKey returns the Values key for a metric suffix such as "rejected_tasks_total".
func SeriesKey(metric, nameTag string) string {
	return seriesKey(metric, nameTag)
}

func seriesKey(metric, nameTag string) string {
	return fmt.Sprintf("%s{%s=%q}", prometheus.BuildFQName(namespace, subsystem, metric), NameLabel, nameTag)
}

type monitored struct {
	source    Source
	tags      map[string]string
	collector *executorCollector
	exported  bool
}

// Registry is the metrics facade. It owns one collector per monitored pool and
// registers it with the supplied registerer, never with the global default.
type Registry struct {
	mu         sync.RWMutex
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	entries    map[string]*monitored
	logger     loggingpkg.ServiceLogger
}

// NewRegistry wraps registerer. A nil registerer gets a fresh
// prometheus.Registry, which is then also used as the gatherer.
func NewRegistry(registerer prometheus.Registerer, logger loggingpkg.ServiceLogger) *Registry {
	r := &Registry{
		registerer: registerer,
		entries:    make(map[string]*monitored),
		logger:     loggingpkg.OrNop(logger).With(loggingpkg.LogFields{"component": "metrics"}),
	}
	if registerer == nil {
		reg := prometheus.NewRegistry()
		r.registerer = reg
		r.gatherer = reg
	} else if g, ok := registerer.(prometheus.Gatherer); ok {
		r.gatherer = g
	}
	return r
}

// Gatherer returns the registry to scrape, or nil when the registerer
// supplied to NewRegistry cannot be gathered.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

// Monitor starts exposing source under nameTag. Calling it again with the same
// source and tag is a no-op. A different source under a tag that is already
// taken is skipped, as are empty tags. Backend failures are logged and
// swallowed; the pool still shows up in Snapshot.
func (r *Registry) Monitor(source Source, nameTag string, tags map[string]string) {
	if source == nil || nameTag == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[nameTag]; ok {
		if !sameSource(existing.source, source) {
			r.logger.Info("Name tag already monitored by another executor, skipping", loggingpkg.LogFields{
				"name_tag": nameTag,
			})
		}
		return
	}

	tags = maps.Clone(tags)
	if override, ok := tags[NameLabel]; ok {
		r.logger.Info("Tag collides with the name label, dropping it", loggingpkg.LogFields{
			"name_tag": nameTag,
			"tag":      override,
		})
		delete(tags, NameLabel)
	}

	entry := &monitored{
		source:    source,
		tags:      tags,
		collector: newExecutorCollector(source, nameTag, tags),
	}
	r.entries[nameTag] = entry

	if err := r.registerer.Register(entry.collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			r.logger.Error("Failed to register executor metrics", fmt.Errorf("%w: %w", errspkg.ErrMetricsUnavailable, err), loggingpkg.LogFields{
				"name_tag": nameTag,
			})
			return
		}
	}
	entry.exported = true
	r.logger.Debug("Monitoring executor", loggingpkg.LogFields{"name_tag": nameTag})
}

// sameSource compares sources by identity. Values of non-comparable types
// cannot be told apart and never match.
func sameSource(a, b Source) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Monitored reports whether nameTag is known to the facade.
func (r *Registry) Monitored(nameTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[nameTag]
	return ok
}

// Snapshot reads every monitored pool.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := Snapshot{
		Executors:   make(map[string]ExecutorMetrics, len(r.entries)),
		CollectedAt: time.Now(),
	}
	for tag, entry := range r.entries {
		m := fromStats(tag, entry.source.Stats())
		m.Tags = maps.Clone(entry.tags)
		m.Exported = entry.exported
		snapshot.Executors[tag] = m
	}
	return snapshot
}

// Unmonitor removes nameTag from the facade and unregisters its collector.
func (r *Registry) Unmonitor(nameTag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[nameTag]
	if !ok {
		return false
	}
	delete(r.entries, nameTag)
	if entry.exported {
		r.registerer.Unregister(entry.collector)
	}
	return true
}

func fromStats(tag string, s pool.Stats) ExecutorMetrics {
	return ExecutorMetrics{
		NameTag:        tag,
		PoolSize:       s.Workers,
		CoreThreads:    s.MinWorkers,
		MaxThreads:     s.MaxWorkers,
		ActiveThreads:  s.Active,
		IdleThreads:    s.Idle,
		QueuedTasks:    s.Queued,
		CompletedTasks: s.Completed,
		RejectedTasks:  s.Rejected,
		FailedTasks:    s.Failed,
	}
}
