package metrics

import (
	"maps"

	"github.com/prometheus/client_golang/prometheus"
)

type metricDef struct {
	name      string
	help      string
	valueType prometheus.ValueType
	value     func(ExecutorMetrics) float64
}

var metricDefs = []metricDef{
	{"pool_size_threads", "Current number of worker goroutines, busy or idle.", prometheus.GaugeValue,
		func(m ExecutorMetrics) float64 { return float64(m.PoolSize) }},
	{"pool_core_threads", "Number of workers kept alive while idle.", prometheus.GaugeValue,
		func(m ExecutorMetrics) float64 { return float64(m.CoreThreads) }},
	{"pool_max_threads", "Maximum number of workers.", prometheus.GaugeValue,
		func(m ExecutorMetrics) float64 { return float64(m.MaxThreads) }},
	{"active_threads", "Workers currently running a task.", prometheus.GaugeValue,
		func(m ExecutorMetrics) float64 { return float64(m.ActiveThreads) }},
	{"idle_threads", "Workers waiting for a task.", prometheus.GaugeValue,
		func(m ExecutorMetrics) float64 { return float64(m.IdleThreads) }},
	{"queued_tasks", "Tasks waiting for a worker. Always zero under direct handoff.", prometheus.GaugeValue,
		func(m ExecutorMetrics) float64 { return float64(m.QueuedTasks) }},
	{"completed_tasks_total", "Tasks that finished, including failed ones.", prometheus.CounterValue,
		func(m ExecutorMetrics) float64 { return float64(m.CompletedTasks) }},
	{"rejected_tasks_total", "Tasks refused because the pool was saturated or closed.", prometheus.CounterValue,
		func(m ExecutorMetrics) float64 { return float64(m.RejectedTasks) }},
	{"failed_tasks_total", "Tasks that returned an error or panicked.", prometheus.CounterValue,
		func(m ExecutorMetrics) float64 { return float64(m.FailedTasks) }},
}

// executorCollector reads pool stats at scrape time, so the pool itself never
// touches Prometheus types.
type executorCollector struct {
	source  Source
	nameTag string
	descs   []*prometheus.Desc
}

func newExecutorCollector(source Source, nameTag string, tags map[string]string) *executorCollector {
	labels := prometheus.Labels{}
	maps.Copy(labels, tags)
	labels[NameLabel] = nameTag

	c := &executorCollector{source: source, nameTag: nameTag}
	for _, def := range metricDefs {
		c.descs = append(c.descs, prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, def.name),
			def.help,
			nil,
			labels,
		))
	}
	return c
}

func (c *executorCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *executorCollector) Collect(ch chan<- prometheus.Metric) {
	m := fromStats(c.nameTag, c.source.Stats())
	for i, def := range metricDefs {
		ch <- prometheus.MustNewConstMetric(c.descs[i], def.valueType, def.value(m))
	}
}
