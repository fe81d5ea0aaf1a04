package provider

import (
	"sync"
	"time"
)

// Base carries the bookkeeping every authenticator shares: identity,
// initialization state, self-reported health, and performance
// counters. Concrete providers embed it and implement the mechanism-
// specific methods.
type Base struct {
	name    string
	typ     string
	tracker *Tracker

	mu            sync.RWMutex
	initialized   bool
	initializedAt time.Time
	healthy       bool
}

// NewBase creates provider bookkeeping for the given identity.
func NewBase(name, typ string) *Base {
	return &Base{
		name:    name,
		typ:     typ,
		tracker: NewTracker(),
	}
}

// Name returns the provider's registration name.
func (b *Base) Name() string { return b.name }

// Type returns the provider's mechanism family.
func (b *Base) Type() string { return b.typ }

// Healthy reports the provider's self-reported health.
func (b *Base) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// Initialized reports whether initialization has completed.
func (b *Base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Uptime is the time elapsed since successful initialization, zero
// before that.
func (b *Base) Uptime() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return 0
	}
	return time.Since(b.initializedAt)
}

// Metrics returns cumulative performance counters.
func (b *Base) Metrics() PerformanceMetrics { return b.tracker.Snapshot() }

// ResetMetrics clears the performance counters.
func (b *Base) ResetMetrics() { b.tracker.Reset() }

// Observe records one authentication attempt against the counters.
func (b *Base) Observe(duration time.Duration, err error) {
	b.tracker.Observe(duration, err)
}

// MarkInitialized flips the provider into the initialized, healthy
// state.
func (b *Base) MarkInitialized() {
	b.mu.Lock()
	b.initialized = true
	b.initializedAt = time.Now()
	b.healthy = true
	b.mu.Unlock()
}

// MarkShutdown flips the provider out of service.
func (b *Base) MarkShutdown() {
	b.mu.Lock()
	b.initialized = false
	b.healthy = false
	b.mu.Unlock()
}

// SetHealthy updates the self-reported health flag.
func (b *Base) SetHealthy(healthy bool) {
	b.mu.Lock()
	b.healthy = healthy
	b.mu.Unlock()
}
