package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

// fakeProvider is a configurable Authenticator for manager tests.
type fakeProvider struct {
	name string
	typ  string

	mu            sync.Mutex
	healthErr     error
	healthPanics  bool
	healthCalls   int
	authErr       error
	authCalls     int
	initErr       error
	initBlocks    bool
	shutdownBlock chan struct{}
	initialized   bool

	tracker *Tracker
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, typ: "fake", tracker: NewTracker()}
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Type() string { return f.typ }

func (f *fakeProvider) Configure(map[string]any) error { return nil }

func (f *fakeProvider) Initialize(ctx context.Context) error {
	f.mu.Lock()
	blocks, err := f.initBlocks, f.initErr
	f.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.initialized = true
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Session, error) {
	f.mu.Lock()
	f.authCalls++
	err := f.authErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &auth.Session{
		ID:        "session-" + f.name,
		UserID:    creds.Identifier,
		Token:     "token-" + f.name,
		Provider:  f.name,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeProvider) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	if token != "token-"+f.name {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Session{Token: token, Provider: f.name, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) RefreshToken(context.Context, string) (*auth.Session, error) {
	return nil, auth.ErrRefreshNotSupported
}

func (f *fakeProvider) RevokeSession(context.Context, string) error { return nil }

func (f *fakeProvider) HealthCheck(context.Context) error {
	f.mu.Lock()
	f.healthCalls++
	err := f.healthErr
	panics := f.healthPanics
	f.mu.Unlock()
	if panics {
		panic("health check exploded")
	}
	return err
}

func (f *fakeProvider) setHealthErr(err error) {
	f.mu.Lock()
	f.healthErr = err
	f.mu.Unlock()
}

func (f *fakeProvider) healthCheckCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls
}

func (f *fakeProvider) authCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

func (f *fakeProvider) Capabilities() []auth.Capability {
	return []auth.Capability{auth.CapabilityPasswordAuth}
}

func (f *fakeProvider) Metrics() PerformanceMetrics { return f.tracker.Snapshot() }
func (f *fakeProvider) ResetMetrics()               { f.tracker.Reset() }
func (f *fakeProvider) Healthy() bool               { return true }

func (f *fakeProvider) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *fakeProvider) Uptime() time.Duration { return 0 }

func (f *fakeProvider) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	block := f.shutdownBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

func TestManagerRegisterAndHas(t *testing.T) {
	t.Parallel()

	m := NewManager()
	assert.False(t, m.Has("memory"))
	assert.Nil(t, m.Get("memory"))

	p := newFakeProvider("memory")
	m.Register(p, nil)

	assert.True(t, m.Has("memory"))
	assert.Same(t, Authenticator(p), m.Get("memory"))
	assert.True(t, m.IsEnabled("memory"))
	assert.Equal(t, 1, m.Count(false))
}

func TestManagerRegisterOverwrite(t *testing.T) {
	t.Parallel()

	m := NewManager()
	first := newFakeProvider("memory")
	second := newFakeProvider("memory")

	m.Register(first, nil)
	m.Register(second, &RegisterOptions{Priority: PriorityHigh, AutoEnable: true})

	assert.Equal(t, 1, m.Count(false))
	assert.Same(t, Authenticator(second), m.Get("memory"))

	p, ok := m.PriorityOf("memory")
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, p)
}

func TestManagerPriorityOfDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("memory"), nil)

	p, ok := m.PriorityOf("memory")
	require.True(t, ok)
	assert.Equal(t, PriorityNormal, p)

	_, ok = m.PriorityOf("missing")
	assert.False(t, ok)
}

func TestManagerSetPriority(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("memory"), nil)

	assert.True(t, m.SetPriority("memory", PriorityCritical))
	p, _ := m.PriorityOf("memory")
	assert.Equal(t, PriorityCritical, p)

	assert.False(t, m.SetPriority("missing", PriorityLow))
	assert.False(t, m.SetPriority("memory", Priority(42)))
}

func TestManagerSetEnabled(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("memory"), nil)

	assert.True(t, m.SetEnabled("memory", false))
	assert.False(t, m.IsEnabled("memory"))
	assert.Equal(t, 0, m.Count(true))

	assert.True(t, m.SetEnabled("memory", true))
	assert.True(t, m.IsEnabled("memory"))

	assert.False(t, m.SetEnabled("missing", true))
}

func TestManagerBestPriorityOrdering(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("low"), &RegisterOptions{Priority: PriorityLow, AutoEnable: true})
	m.Register(newFakeProvider("critical"), &RegisterOptions{Priority: PriorityCritical, AutoEnable: true})
	m.Register(newFakeProvider("normal"), &RegisterOptions{Priority: PriorityNormal, AutoEnable: true})

	best := m.Best()
	require.NotNil(t, best)
	assert.Equal(t, "critical", best.Name())

	// Disabling the best falls through to the next priority.
	m.SetEnabled("critical", false)
	best = m.Best()
	require.NotNil(t, best)
	assert.Equal(t, "normal", best.Name())
}

func TestManagerBestTieBreaksByRegistrationOrder(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("first"), nil)
	m.Register(newFakeProvider("second"), nil)

	best := m.Best()
	require.NotNil(t, best)
	assert.Equal(t, "first", best.Name())
}

func TestManagerBestNoneEligible(t *testing.T) {
	t.Parallel()

	m := NewManager()
	assert.Nil(t, m.Best())

	m.Register(newFakeProvider("memory"), &RegisterOptions{Priority: PriorityNormal})
	// AutoEnable false leaves the provider out of selection.
	assert.Nil(t, m.Best())
}

func TestManagerListSortedByPriority(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("backup"), &RegisterOptions{Priority: PriorityBackup, AutoEnable: true})
	m.Register(newFakeProvider("high"), &RegisterOptions{Priority: PriorityHigh, AutoEnable: true})
	m.Register(newFakeProvider("normal"), &RegisterOptions{Priority: PriorityNormal, AutoEnable: false})

	assert.Equal(t, []string{"high", "normal", "backup"}, m.List(false, true))
	assert.Equal(t, []string{"high", "backup"}, m.List(true, true))
	assert.Equal(t, []string{"backup", "high", "normal"}, m.List(false, false))
}

func TestManagerByPriority(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("a"), &RegisterOptions{Priority: PriorityHigh, AutoEnable: true})
	m.Register(newFakeProvider("b"), &RegisterOptions{Priority: PriorityNormal, AutoEnable: true})
	m.Register(newFakeProvider("c"), &RegisterOptions{Priority: PriorityHigh, AutoEnable: true})

	assert.Equal(t, []string{"a", "c"}, m.ByPriority(PriorityHigh))
	assert.Equal(t, []string{"b"}, m.ByPriority(PriorityNormal))
	assert.Empty(t, m.ByPriority(PriorityBackup))
}

func TestManagerStatistics(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("a"), &RegisterOptions{Priority: PriorityHigh, AutoEnable: true})
	m.Register(newFakeProvider("b"), &RegisterOptions{Priority: PriorityNormal, AutoEnable: false})

	stats := m.Statistics()
	assert.Equal(t, 2, stats.TotalProviders)
	assert.Equal(t, 1, stats.EnabledProviders)
	assert.Equal(t, 2, stats.HealthyProviders)
	assert.InDelta(t, 100.0, stats.HealthScore, 0.01)
	assert.Equal(t, 2, stats.ProviderTypes["fake"])
	assert.Equal(t, 1, stats.ProvidersByPriority[PriorityHigh])
	assert.Equal(t, 1, stats.ProvidersByPriority[PriorityNormal])
}

func TestManagerStatisticsEmpty(t *testing.T) {
	t.Parallel()

	stats := NewManager().Statistics()
	assert.Zero(t, stats.TotalProviders)
	assert.Zero(t, stats.HealthScore)
}

func TestTrackerSnapshot(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Observe(10*time.Millisecond, nil)
	tr.Observe(20*time.Millisecond, auth.ErrInvalidCredentials)

	m := tr.Snapshot()
	assert.Equal(t, int64(2), m.TotalAttempts)
	assert.Equal(t, int64(1), m.SuccessfulAuthentications)
	assert.Equal(t, int64(1), m.FailedAuthentications)
	assert.Equal(t, 15*time.Millisecond, m.AverageResponseTime)
	assert.Equal(t, int64(1), m.ErrorsByType[string(auth.ErrorTypeInvalidCredentials)])
	assert.InDelta(t, 0.5, m.Statistics.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, m.Statistics.FailureRate, 0.001)

	tr.Reset()
	assert.Zero(t, tr.Snapshot().TotalAttempts)
}
