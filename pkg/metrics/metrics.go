// Package metrics exposes dispatcher activity as Prometheus metrics on a
// private registry.
package metrics

import (
	"net/http"
	"time"

	"beastbot/pkg/dispatcher"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements dispatcher.Recorder.
type Metrics struct {
	registry      *prometheus.Registry
	tasksStarted  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	activeSlots   prometheus.Gauge
	schedulerPass *prometheus.CounterVec
}

var _ dispatcher.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beastbot",
			Name:      "tasks_started_total",
			Help:      "Emulator tasks that took a slot.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beastbot",
			Name:      "tasks_finished_total",
			Help:      "Emulator tasks that released their slot, by outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beastbot",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock time from slot claim to release.",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
		}),
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beastbot",
			Name:      "active_tasks",
			Help:      "Slots currently occupied.",
		}),
		schedulerPass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beastbot",
			Name:      "scheduler_passes_total",
			Help:      "Scheduling passes, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.tasksStarted,
		m.tasksFinished,
		m.taskDuration,
		m.activeSlots,
		m.schedulerPass,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, o := range []string{dispatcher.OutcomeSuccess, dispatcher.OutcomeError, dispatcher.OutcomeTimeout} {
		m.tasksFinished.WithLabelValues(o)
	}
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
}

func (m *Metrics) TaskFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(outcome).Inc()
	m.taskDuration.Observe(d.Seconds())
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeSlots.Set(float64(n))
}

func (m *Metrics) SchedulerPass(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.schedulerPass.WithLabelValues(result).Inc()
}
