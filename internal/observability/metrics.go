package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the metrics recording contract consumed by the validator
// and the orchestrator.
type Metrics interface {
	RecordAttempt(operation string, duration time.Duration)
	RecordSuccess(operation string, duration time.Duration)
	RecordFailure(operation string, errorKind string, duration time.Duration)
	Snapshot(since time.Time) MetricsSnapshot
	Reset()
}

// MetricsSnapshot is a point-in-time view of the recorded counters.
type MetricsSnapshot struct {
	Attempts     int64            `json:"attempts"`
	Successes    int64            `json:"successes"`
	Failures     int64            `json:"failures"`
	ErrorsByKind map[string]int64 `json:"errors_by_kind,omitempty"`
	Since        time.Time        `json:"since,omitempty"`
}

// sample is one recorded observation, kept for time-ranged snapshots.
type sample struct {
	at        time.Time
	success   bool
	attempt   bool
	errorKind string
}

// maxSamples bounds the in-memory sample window.
const maxSamples = 8192

// promMetrics implements Metrics with Prometheus collectors plus an
// in-memory sample window. Prometheus counters are cumulative by
// design; Reset and time-ranged Snapshot apply to the window only.
type promMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	successTotal    *prometheus.CounterVec
	failureTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	mu      sync.Mutex
	samples []sample
}

// NewMetrics creates a Metrics recorder registered with the default
// Prometheus registerer.
func NewMetrics(namespace string) Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a Metrics recorder with a custom
// registerer. Tests pass a private registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &promMetrics{}

	m.attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "attempts_total",
			Help:      "Total number of attempted operations",
		},
		[]string{"operation"},
	)

	m.successTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "success_total",
			Help:      "Total number of successful operations",
		},
		[]string{"operation"},
	)

	m.failureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "failure_total",
			Help:      "Total number of failed operations",
		},
		[]string{"operation", "error_kind"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Operation duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// Best-effort registration so shared registries tolerate re-creation.
	collectors := []prometheus.Collector{
		m.attemptsTotal,
		m.successTotal,
		m.failureTotal,
		m.requestDuration,
	}
	for _, c := range collectors {
		_ = registerer.Register(c)
	}

	return m
}

// RecordAttempt implements Metrics.
func (m *promMetrics) RecordAttempt(operation string, duration time.Duration) {
	m.attemptsTotal.WithLabelValues(operation).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.append(sample{at: time.Now(), attempt: true})
}

// RecordSuccess implements Metrics.
func (m *promMetrics) RecordSuccess(operation string, duration time.Duration) {
	m.successTotal.WithLabelValues(operation).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.append(sample{at: time.Now(), success: true})
}

// RecordFailure implements Metrics.
func (m *promMetrics) RecordFailure(operation, errorKind string, duration time.Duration) {
	m.failureTotal.WithLabelValues(operation, errorKind).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.append(sample{at: time.Now(), errorKind: errorKind})
}

// Snapshot implements Metrics. A zero since returns everything in the
// window.
func (m *promMetrics) Snapshot(since time.Time) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		ErrorsByKind: make(map[string]int64),
		Since:        since,
	}
	for _, s := range m.samples {
		if !since.IsZero() && s.at.Before(since) {
			continue
		}
		switch {
		case s.attempt:
			snap.Attempts++
		case s.success:
			snap.Successes++
		default:
			snap.Failures++
			snap.ErrorsByKind[s.errorKind]++
		}
	}
	return snap
}

// Reset implements Metrics.
func (m *promMetrics) Reset() {
	m.mu.Lock()
	m.samples = nil
	m.mu.Unlock()
}

func (m *promMetrics) append(s sample) {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	if len(m.samples) > maxSamples {
		m.samples = m.samples[len(m.samples)-maxSamples:]
	}
	m.mu.Unlock()
}

// NopMetrics returns a Metrics recorder that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

type nopMetrics struct{}

func (nopMetrics) RecordAttempt(string, time.Duration)         {}
func (nopMetrics) RecordSuccess(string, time.Duration)         {}
func (nopMetrics) RecordFailure(string, string, time.Duration) {}
func (nopMetrics) Snapshot(time.Time) MetricsSnapshot          { return MetricsSnapshot{} }
func (nopMetrics) Reset()                                      {}
