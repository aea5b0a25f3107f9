// Package metrics provides Prometheus metrics for the dispatch gateway.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus metric the gateway exposes on /metrics.
type Metrics struct {
	SchedulerSelectionsTotal prometheus.CounterVec
	DeviceBusy               prometheus.GaugeVec
	TasksTotal               prometheus.CounterVec
	WorkerHealthProbesTotal  prometheus.CounterVec
	GenerationDurationSeconds prometheus.HistogramVec
}

var (
	schedulerSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_scheduler_selections_total",
			Help: "Total number of times a device was selected by the scheduler",
		},
		[]string{"device"},
	)

	deviceBusy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_device_busy",
			Help: "1 if the device is currently running a task, 0 otherwise",
		},
		[]string{"device"},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tasks_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	workerHealthProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_worker_health_probes_total",
			Help: "Total number of worker health probes, by outcome",
		},
		[]string{"device", "outcome"},
	)

	generationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_generation_duration_seconds",
			Help:    "Duration of a generation task from dispatch to terminal status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	instance *Metrics
)

func init() {
	prometheus.MustRegister(
		schedulerSelectionsTotal,
		deviceBusy,
		tasksTotal,
		workerHealthProbesTotal,
		generationDurationSeconds,
	)

	instance = &Metrics{
		SchedulerSelectionsTotal:  *schedulerSelectionsTotal,
		DeviceBusy:                *deviceBusy,
		TasksTotal:                *tasksTotal,
		WorkerHealthProbesTotal:   *workerHealthProbesTotal,
		GenerationDurationSeconds: *generationDurationSeconds,
	}
}

// Get returns the process-wide Metrics instance.
func Get() *Metrics { return instance }

// RecordSelection increments the selection counter for a device.
func (m *Metrics) RecordSelection(device int) {
	schedulerSelectionsTotal.WithLabelValues(deviceLabel(device)).Inc()
}

// SetDeviceBusy records a device's current busy state.
func (m *Metrics) SetDeviceBusy(device int, busy bool) {
	v := 0.0
	if busy {
		v = 1.0
	}
	deviceBusy.WithLabelValues(deviceLabel(device)).Set(v)
}

// RecordTaskTerminal increments the terminal task counter for a status
// ("completed" or "failed", as recorded by the dispatch core).
func (m *Metrics) RecordTaskTerminal(status string) {
	tasksTotal.WithLabelValues(status).Inc()
}

// RecordHealthProbe increments the health probe counter for a device and
// outcome ("ok" or "error").
func (m *Metrics) RecordHealthProbe(device int, outcome string) {
	workerHealthProbesTotal.WithLabelValues(deviceLabel(device), outcome).Inc()
}

// RecordGenerationDuration observes how long a task took to reach a
// terminal status.
func (m *Metrics) RecordGenerationDuration(seconds float64, status string) {
	generationDurationSeconds.WithLabelValues(status).Observe(seconds)
}

func deviceLabel(device int) string {
	return strconv.Itoa(device)
}
