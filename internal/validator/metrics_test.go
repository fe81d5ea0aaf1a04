package validator

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestEngineRecordsPrometheusMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	v := New(WithPrometheusMetrics(NewMetricsWithRegisterer("test", registry)))
	v.AddRule(passingRule("ok", 10))
	v.AddRule(failingRule("bad", 20, "nope"))

	v.ValidateWithRules(context.Background(), nil, Options{})

	assert.Equal(t, float64(1),
		counterValue(t, registry, "test_validator_validations_total", map[string]string{"result": "invalid"}))
	assert.Equal(t, float64(1),
		counterValue(t, registry, "test_validator_rules_total", map[string]string{"rule": "ok", "result": "valid"}))
	assert.Equal(t, float64(1),
		counterValue(t, registry, "test_validator_rules_total", map[string]string{"rule": "bad", "result": "invalid"}))
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordValidation(true)
	m.RecordRule("rule", false, 0)
}
