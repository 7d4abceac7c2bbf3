package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
)

type staticSource struct {
	stats pool.Stats
}

func (s *staticSource) Stats() pool.Stats { return s.stats }

type failingRegisterer struct {
	prometheus.Registerer
	calls int
}

func (f *failingRegisterer) Register(prometheus.Collector) error {
	f.calls++
	return errors.New("registry offline")
}

func TestMonitor_ExposesPoolStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg, nil)
	src := &staticSource{stats: pool.Stats{
		MinWorkers: 1, MaxWorkers: 4, Workers: 3, Active: 2, Idle: 1,
		Completed: 10, Rejected: 2, Failed: 1,
	}}

	m.Monitor(src, "primary-pool", map[string]string{"endpoint": "primary"})

	expected := `
# HELP dispatchkit_executor_rejected_tasks_total Tasks refused because the pool was saturated or closed.
# TYPE dispatchkit_executor_rejected_tasks_total counter
dispatchkit_executor_rejected_tasks_total{endpoint="primary",name="primary-pool"} 2
# HELP dispatchkit_executor_active_threads Workers currently running a task.
# TYPE dispatchkit_executor_active_threads gauge
dispatchkit_executor_active_threads{endpoint="primary",name="primary-pool"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dispatchkit_executor_rejected_tasks_total", "dispatchkit_executor_active_threads"))
	assert.Equal(t, len(metricDefs), testutil.CollectAndCount(m.collectorFor(t, "primary-pool")))

	snap := m.Snapshot()
	require.Contains(t, snap.Executors, "primary-pool")
	got := snap.Executors["primary-pool"]
	assert.Equal(t, 3, got.PoolSize)
	assert.Equal(t, 1, got.CoreThreads)
	assert.Equal(t, int64(10), got.CompletedTasks)
	assert.Equal(t, map[string]string{"endpoint": "primary"}, got.Tags)
	assert.True(t, got.Exported)
	assert.False(t, snap.CollectedAt.IsZero())

	values := snap.Values()
	assert.Equal(t, 2.0, values[SeriesKey("rejected_tasks_total", "primary-pool")])
	assert.Equal(t, 0.0, values[`dispatchkit_executor_queued_tasks{name="primary-pool"}`])
	assert.Len(t, values, len(metricDefs))
}

func TestMonitor_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg, nil)
	src := &staticSource{}

	m.Monitor(src, "minor-pool", nil)
	m.Monitor(src, "minor-pool", nil)

	count, err := testutil.GatherAndCount(reg, "dispatchkit_executor_completed_tasks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, m.Snapshot().Executors, 1)
}

func TestMonitor_TagTakenByAnotherPool(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg, loggingpkg.NewWatermillServiceLogger(capture))
	first := &staticSource{stats: pool.Stats{Completed: 1}}
	second := &staticSource{stats: pool.Stats{Completed: 99}}

	m.Monitor(first, "shared", nil)
	m.Monitor(second, "shared", nil)

	assert.Equal(t, int64(1), m.Snapshot().Executors["shared"].CompletedTasks)
	assert.True(t, capture.Has(watermill.CapturedMessage{
		Level:  watermill.InfoLogLevel,
		Fields: watermill.LogFields{"component": "metrics", "name_tag": "shared"},
		Msg:    "Name tag already monitored by another executor, skipping",
	}))
}

// valueSource is a non-comparable Source implementation.
type valueSource struct {
	history []int64
}

func (s valueSource) Stats() pool.Stats { return pool.Stats{Completed: int64(len(s.history))} }

func TestMonitor_NonComparableSource(t *testing.T) {
	m := NewRegistry(prometheus.NewRegistry(), nil)

	assert.NotPanics(t, func() {
		m.Monitor(valueSource{history: []int64{1, 2}}, "by-value", nil)
		m.Monitor(valueSource{history: []int64{1}}, "by-value", nil)
	})
	assert.Equal(t, int64(2), m.Snapshot().Executors["by-value"].CompletedTasks)
}

func TestMonitor_DropsTagCollidingWithNameLabel(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg, loggingpkg.NewWatermillServiceLogger(capture))
	tags := map[string]string{NameLabel: "override", "endpoint": "minor"}

	m.Monitor(&staticSource{}, "minor-pool", tags)

	assert.Equal(t, "override", tags[NameLabel], "caller's map is not modified")
	assert.Equal(t, map[string]string{"endpoint": "minor"}, m.Snapshot().Executors["minor-pool"].Tags)
	assert.True(t, capture.Has(watermill.CapturedMessage{
		Level:  watermill.InfoLogLevel,
		Fields: watermill.LogFields{"component": "metrics", "name_tag": "minor-pool", "tag": "override"},
		Msg:    "Tag collides with the name label, dropping it",
	}))

	expected := `
# HELP dispatchkit_executor_pool_max_threads Maximum number of workers.
# TYPE dispatchkit_executor_pool_max_threads gauge
dispatchkit_executor_pool_max_threads{endpoint="minor",name="minor-pool"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "dispatchkit_executor_pool_max_threads"))
}

func TestMonitor_IgnoresUnnamedAndNil(t *testing.T) {
	m := NewRegistry(nil, nil)

	m.Monitor(&staticSource{}, "", nil)
	m.Monitor(nil, "ghost", nil)

	assert.Empty(t, m.Snapshot().Executors)
	assert.False(t, m.Monitored("ghost"))
}

func TestMonitor_BackendFailureIsSwallowed(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	backend := &failingRegisterer{}
	m := NewRegistry(backend, loggingpkg.NewWatermillServiceLogger(capture))

	assert.NotPanics(t, func() {
		m.Monitor(&staticSource{stats: pool.Stats{Rejected: 3}}, "offline", nil)
	})

	assert.Equal(t, 1, backend.calls)
	assert.Nil(t, m.Gatherer())
	snap := m.Snapshot()
	require.Contains(t, snap.Executors, "offline")
	assert.False(t, snap.Executors["offline"].Exported)
	assert.Equal(t, int64(3), snap.Executors["offline"].RejectedTasks)

	logged := capture.Captured()[watermill.ErrorLogLevel]
	require.Len(t, logged, 1)
	assert.ErrorIs(t, logged[0].Err, errspkg.ErrMetricsUnavailable)
}

func TestMonitor_DoesNotTouchDefaultRegisterer(t *testing.T) {
	m := NewRegistry(nil, nil)
	m.Monitor(&staticSource{}, "isolated", nil)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.False(t, strings.HasPrefix(f.GetName(), "dispatchkit_executor_"), f.GetName())
	}

	count, err := testutil.GatherAndCount(m.Gatherer(), "dispatchkit_executor_pool_size_threads")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnmonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg, nil)
	m.Monitor(&staticSource{}, "temp", nil)

	assert.True(t, m.Unmonitor("temp"))
	assert.False(t, m.Unmonitor("temp"))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMinorPoolScenario(t *testing.T) {
	m := NewRegistry(nil, nil)
	p, err := pool.New(pool.Config{Name: "minor", MaxWorkers: 2, KeepAlive: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m.Monitor(p, "minor-pool", map[string]string{"endpoint": "minor"})

	snap := m.Snapshot()
	require.Contains(t, snap.Executors, "minor-pool")
	assert.Zero(t, snap.Executors["minor-pool"].RejectedTasks)
	assert.Zero(t, snap.Executors["minor-pool"].CompletedTasks)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		require.Equal(t, pool.Accepted, p.Submit(func(context.Context) error { wg.Done(); return nil }))
		wg.Wait()
		require.Eventually(t, func() bool {
			return m.Snapshot().Executors["minor-pool"].CompletedTasks == int64(i+1)
		}, time.Second, 5*time.Millisecond)
	}
	assert.Zero(t, m.Snapshot().Values()[SeriesKey("rejected_tasks_total", "minor-pool")])
}

// collectorFor exposes the collector of a monitored tag to testutil.
func (r *Registry) collectorFor(t *testing.T, nameTag string) prometheus.Collector {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[nameTag]
	require.True(t, ok)
	return entry.collector
}
