package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the executor's Prometheus collectors.
type Metrics struct {
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	CacheEntries prometheus.Gauge
	PlansTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "datacube",
				Subsystem: "executor",
				Name:      "tasks_total",
				Help:      "Tasks run by kind and final status",
			},
			[]string{"kind", "status"}, // "ok", "error", "skipped"
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "datacube",
				Subsystem: "executor",
				Name:      "task_duration_seconds",
				Help:      "Task execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "datacube",
				Subsystem: "executor",
				Name:      "cache_entries",
				Help:      "Entries held in the executor result cache",
			},
		),
		PlansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "datacube",
				Subsystem: "executor",
				Name:      "plans_total",
				Help:      "Plans executed by final status",
			},
			[]string{"status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.TasksTotal, m.TaskDuration, m.CacheEntries, m.PlansTotal)
	}
	return m
}
