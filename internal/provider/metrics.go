package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ManagerMetrics holds Prometheus metrics for the provider manager.
type ManagerMetrics struct {
	registrationsTotal  *prometheus.CounterVec
	healthChecksTotal   *prometheus.CounterVec
	healthCheckDuration *prometheus.HistogramVec
	selectionsTotal     *prometheus.CounterVec
	providersRegistered prometheus.Gauge
}

// NewManagerMetrics creates manager metrics registered with the default
// Prometheus registerer.
func NewManagerMetrics(namespace string) *ManagerMetrics {
	return NewManagerMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewManagerMetricsWithRegisterer creates manager metrics with a custom
// registerer. Tests pass a private registry.
func NewManagerMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *ManagerMetrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &ManagerMetrics{}

	m.registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "registrations_total",
			Help:      "Total number of provider registrations",
		},
		[]string{"type"},
	)

	m.healthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "health_checks_total",
			Help:      "Total number of provider health checks",
		},
		[]string{"provider", "result"},
	)

	m.healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "health_check_duration_seconds",
			Help:      "Provider health check duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"provider"},
	)

	m.selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "selections_total",
			Help:      "Total number of best-provider selections",
		},
		[]string{"provider"},
	)

	m.providersRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "registered",
			Help:      "Number of currently registered providers",
		},
	)

	collectors := []prometheus.Collector{
		m.registrationsTotal,
		m.healthChecksTotal,
		m.healthCheckDuration,
		m.selectionsTotal,
		m.providersRegistered,
	}
	for _, c := range collectors {
		_ = registerer.Register(c)
	}

	return m
}

// RecordRegistration records a provider registration.
func (m *ManagerMetrics) RecordRegistration(providerType string, total int) {
	if m == nil {
		return
	}
	m.registrationsTotal.WithLabelValues(providerType).Inc()
	m.providersRegistered.Set(float64(total))
}

// RecordHealthCheck records a health check outcome.
func (m *ManagerMetrics) RecordHealthCheck(provider, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.healthChecksTotal.WithLabelValues(provider, result).Inc()
	m.healthCheckDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSelection records a best-provider selection outcome. The
// provider label is "none" when no provider was eligible.
func (m *ManagerMetrics) RecordSelection(provider string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.selectionsTotal.WithLabelValues(provider).Inc()
}
