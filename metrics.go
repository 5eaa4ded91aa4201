package svcctl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "svcctl"

// Metrics records lifecycle telemetry. A nil *Metrics records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	status      *prometheus.GaugeVec
}

// NewMetrics creates the lifecycle collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Total number of lifecycle operations by result",
			},
			[]string{"operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Time taken by lifecycle operations",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
			},
			[]string{"operation"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "state_transitions_total",
				Help:      "Total number of persisted state transitions",
			},
			[]string{"from", "to"},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "service_status",
				Help:      "Current status of each service (0=not-installed, 1=installed, 2=starting, 3=running, 4=stopping, 5=stopped, 6=failed)",
			},
			[]string{"service"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.transitions, m.status)
	}
	return m
}

// observeOp records the outcome and duration of one operation
func (m *Metrics) observeOp(op Operation, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op.String(), result).Inc()
	m.duration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

// transition records a persisted status change
func (m *Metrics) transition(name string, from, to Status) {
	if m == nil {
		return
	}
	if from != to {
		m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	}
	if to == StatusNotInstalled {
		m.status.DeleteLabelValues(name)
		return
	}
	m.status.WithLabelValues(name).Set(float64(to))
}
