package validator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the validation engine.
type Metrics struct {
	validationsTotal *prometheus.CounterVec
	rulesTotal       *prometheus.CounterVec
	ruleDuration     *prometheus.HistogramVec
}

// NewMetrics creates validator metrics registered with the default
// Prometheus registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates validator metrics with a custom
// registerer. Tests pass a private registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "validations_total",
			Help:      "Total number of validation runs",
		},
		[]string{"result"},
	)

	m.rulesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "rules_total",
			Help:      "Total number of individual rule evaluations",
		},
		[]string{"rule", "result"},
	)

	m.ruleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "rule_duration_seconds",
			Help:      "Rule evaluation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"rule"},
	)

	collectors := []prometheus.Collector{
		m.validationsTotal,
		m.rulesTotal,
		m.ruleDuration,
	}
	for _, c := range collectors {
		_ = registerer.Register(c)
	}

	return m
}

func resultLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// RecordValidation records the outcome of one engine run.
func (m *Metrics) RecordValidation(valid bool) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(resultLabel(valid)).Inc()
}

// RecordRule records the outcome of one rule evaluation.
func (m *Metrics) RecordRule(rule string, valid bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.rulesTotal.WithLabelValues(rule, resultLabel(valid)).Inc()
	m.ruleDuration.WithLabelValues(rule).Observe(duration.Seconds())
}
