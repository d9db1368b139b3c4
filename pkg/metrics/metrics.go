// Package metrics exposes supervisor counters and gauges in Prometheus
// format. The collector is optional; a nil *Collector disables reporting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/procbox/pkg/task"
)

// Collector holds the supervisor's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	tasksByStatus    *prometheus.GaugeVec
	startsTotal      prometheus.Counter
	crashesTotal     prometheus.Counter
	escalationsTotal prometheus.Counter
	startSeconds     prometheus.Histogram
	stopSeconds      prometheus.Histogram
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		tasksByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "procbox_tasks",
			Help: "Number of tasks by lifecycle status",
		}, []string{"status"}),
		startsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbox_task_starts_total",
			Help: "Total successful task starts",
		}),
		crashesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbox_task_crashes_total",
			Help: "Total worker crashes and start timeouts",
		}),
		escalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbox_stop_escalations_total",
			Help: "Total stops that required forced termination",
		}),
		startSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "procbox_start_duration_seconds",
			Help:    "Time from spawn until the worker confirmed initialization",
			Buckets: prometheus.DefBuckets,
		}),
		stopSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "procbox_stop_duration_seconds",
			Help:    "Time from stop request until the worker exited",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns the /metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveStatuses replaces the tasks-by-status gauge from a snapshot.
func (c *Collector) ObserveStatuses(infos []task.Info) {
	if c == nil {
		return
	}
	counts := map[task.Status]int{
		task.StatusCreated:  0,
		task.StatusStarting: 0,
		task.StatusRunning:  0,
		task.StatusStopping: 0,
		task.StatusStopped:  0,
		task.StatusFailed:   0,
	}
	for _, info := range infos {
		counts[info.Status]++
	}
	for status, n := range counts {
		c.tasksByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

// TaskStarted records one successful start and its confirmation latency.
func (c *Collector) TaskStarted(seconds float64) {
	if c == nil {
		return
	}
	c.startsTotal.Inc()
	c.startSeconds.Observe(seconds)
}

// TaskCrashed records a crash or start timeout.
func (c *Collector) TaskCrashed() {
	if c == nil {
		return
	}
	c.crashesTotal.Inc()
}

// StopEscalated records a stop that needed forced termination.
func (c *Collector) StopEscalated() {
	if c == nil {
		return
	}
	c.escalationsTotal.Inc()
}

// TaskStopped records how long a graceful stop took.
func (c *Collector) TaskStopped(seconds float64) {
	if c == nil {
		return
	}
	c.stopSeconds.Observe(seconds)
}
