package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/provider"
)

// healthyScoreFloor is the percentage of providers that must be
// healthy for the system to report healthy overall.
const healthyScoreFloor = 50.0

// SystemHealth aggregates per-provider health into one view.
type SystemHealth struct {
	Healthy   bool                            `json:"healthy"`
	Providers map[string]provider.CheckResult `json:"providers"`
	Stats     provider.Statistics             `json:"stats"`
}

// AggregatedMetrics summarizes authentication volume across every
// provider.
type AggregatedMetrics struct {
	TotalAuthentications int64                                  `json:"total_authentications"`
	SuccessRate          float64                                `json:"success_rate"`
	PerProvider          map[string]provider.PerformanceMetrics `json:"per_provider"`
}

// CheckHealth triggers a health check pass over every enabled
// provider and returns the per-provider results.
func (o *Orchestrator) CheckHealth(ctx context.Context) map[string]provider.CheckResult {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CheckHealth")
	defer span.End()

	return o.providers.PerformHealthChecks(ctx)
}

// SystemHealth runs a health check pass and reduces it to an overall
// verdict: healthy only while at least half of the enabled providers
// are healthy.
func (o *Orchestrator) SystemHealth(ctx context.Context) SystemHealth {
	results := o.CheckHealth(ctx)
	stats := o.providers.Statistics()

	healthy := stats.EnabledProviders > 0 && stats.HealthScore >= healthyScoreFloor
	return SystemHealth{
		Healthy:   healthy,
		Providers: results,
		Stats:     stats,
	}
}

// PerformanceMetrics aggregates every provider's counters.
func (o *Orchestrator) PerformanceMetrics() AggregatedMetrics {
	agg := AggregatedMetrics{
		PerProvider: make(map[string]provider.PerformanceMetrics),
	}

	var successes int64
	for _, name := range o.providers.List(false, true) {
		p := o.providers.Get(name)
		if p == nil {
			continue
		}
		pm := p.Metrics()
		agg.PerProvider[name] = pm
		agg.TotalAuthentications += pm.TotalAttempts
		successes += pm.SuccessfulAuthentications
	}

	if agg.TotalAuthentications > 0 {
		agg.SuccessRate = float64(successes) / float64(agg.TotalAuthentications)
	}
	return agg
}

// ResetPerformanceMetrics clears every provider's counters and the
// orchestrator's own recorder.
func (o *Orchestrator) ResetPerformanceMetrics() {
	for _, name := range o.providers.List(false, false) {
		if p := o.providers.Get(name); p != nil {
			p.ResetMetrics()
		}
	}
	o.metrics.Reset()
}

// MetricsSnapshot returns the orchestrator-level counters recorded
// since the given time.
func (o *Orchestrator) MetricsSnapshot(since time.Time) observability.MetricsSnapshot {
	return o.metrics.Snapshot(since)
}

// Capabilities returns the deduplicated union of every registered
// provider's capabilities, sorted for stable output. Empty when no
// providers are registered.
func (o *Orchestrator) Capabilities() []auth.Capability {
	seen := make(map[auth.Capability]bool)
	for _, name := range o.providers.List(false, false) {
		p := o.providers.Get(name)
		if p == nil {
			continue
		}
		for _, c := range p.Capabilities() {
			seen[c] = true
		}
	}

	out := make([]auth.Capability, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Events returns the retained audit events.
func (o *Orchestrator) Events() []observability.Event {
	return o.logger.Events()
}

// ClearEvents drops the retained audit events.
func (o *Orchestrator) ClearEvents() {
	o.logger.Clear()
}

// SetLogLevel adjusts the audit logger's level at runtime.
func (o *Orchestrator) SetLogLevel(level string) error {
	return o.logger.SetLevel(level)
}
