// Package provider defines the pluggable authenticator contract and the
// manager that owns provider registration, priority and health state,
// selection, and the health-monitoring lifecycle.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

// Authenticator is the contract every identity provider implements.
// New mechanisms plug in purely by implementing this interface and
// registering with the Manager; callers only ever hold the interface.
type Authenticator interface {
	// Name returns the unique registration name of the provider.
	Name() string

	// Type returns the mechanism family (jwt, apikey, memory, ...).
	Type() string

	// Configure applies provider-specific settings before Initialize.
	Configure(settings map[string]any) error

	// Initialize prepares the provider for use.
	Initialize(ctx context.Context) error

	// Authenticate exchanges credentials for a session.
	Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Session, error)

	// ValidateSession checks a session token and returns the session.
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)

	// RefreshToken exchanges a refresh token for a new session.
	RefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error)

	// RevokeSession invalidates a session token.
	RevokeSession(ctx context.Context, token string) error

	// HealthCheck reports the provider's operational status.
	HealthCheck(ctx context.Context) error

	// Capabilities lists the operations the provider supports.
	Capabilities() []auth.Capability

	// Metrics returns cumulative performance counters.
	Metrics() PerformanceMetrics

	// ResetMetrics clears the performance counters.
	ResetMetrics()

	// Healthy reports the provider's own view of its health.
	Healthy() bool

	// Initialized reports whether Initialize has completed.
	Initialized() bool

	// Uptime is the time elapsed since successful initialization.
	Uptime() time.Duration

	// Shutdown releases provider resources.
	Shutdown(ctx context.Context) error
}

// UserManager is an auxiliary component handling account lifecycle
// concerns a provider does not own (creation, activation).
type UserManager interface {
	Name() string
	CreateUser(ctx context.Context, identifier string, metadata map[string]string) error
	ActivateUser(ctx context.Context, identifier, code string) error
}

// TokenManager is an auxiliary component handling token issuance
// concerns shared across providers.
type TokenManager interface {
	Name() string
	Issue(ctx context.Context, userID string, ttl time.Duration) (string, error)
	Revoke(ctx context.Context, token string) error
}

// PerformanceStatistics are derived rates over the raw counters.
type PerformanceStatistics struct {
	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`
	Throughput  float64 `json:"throughput"`
}

// PerformanceMetrics are per-provider cumulative counters.
type PerformanceMetrics struct {
	TotalAttempts             int64                 `json:"total_attempts"`
	SuccessfulAuthentications int64                 `json:"successful_authentications"`
	FailedAuthentications     int64                 `json:"failed_authentications"`
	AverageResponseTime       time.Duration         `json:"average_response_time"`
	ErrorsByType              map[string]int64      `json:"errors_by_type,omitempty"`
	Statistics                PerformanceStatistics `json:"statistics"`
}

// Tracker accumulates performance counters for a provider. Concrete
// providers embed one and call Observe around each authentication.
type Tracker struct {
	mu           sync.Mutex
	attempts     int64
	successes    int64
	failures     int64
	totalElapsed time.Duration
	errorsByType map[string]int64
	startedAt    time.Time
}

// NewTracker creates a performance tracker.
func NewTracker() *Tracker {
	return &Tracker{
		errorsByType: make(map[string]int64),
		startedAt:    time.Now(),
	}
}

// Observe records one authentication attempt.
func (t *Tracker) Observe(duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts++
	t.totalElapsed += duration
	if err == nil {
		t.successes++
		return
	}
	t.failures++
	t.errorsByType[string(auth.Classify(err))]++
}

// Snapshot returns the current counters with derived statistics.
func (t *Tracker) Snapshot() PerformanceMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := PerformanceMetrics{
		TotalAttempts:             t.attempts,
		SuccessfulAuthentications: t.successes,
		FailedAuthentications:     t.failures,
		ErrorsByType:              make(map[string]int64, len(t.errorsByType)),
	}
	for k, v := range t.errorsByType {
		m.ErrorsByType[k] = v
	}
	if t.attempts > 0 {
		m.AverageResponseTime = t.totalElapsed / time.Duration(t.attempts)
		m.Statistics.SuccessRate = float64(t.successes) / float64(t.attempts)
		m.Statistics.FailureRate = float64(t.failures) / float64(t.attempts)
	}
	if elapsed := time.Since(t.startedAt).Seconds(); elapsed > 0 {
		m.Statistics.Throughput = float64(t.attempts) / elapsed
	}
	return m
}

// Reset clears the counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = 0
	t.successes = 0
	t.failures = 0
	t.totalElapsed = 0
	t.errorsByType = make(map[string]int64)
	t.startedAt = time.Now()
}
