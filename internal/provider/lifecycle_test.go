package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

func TestPerformHealthChecksUpdatesFailureCounts(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	m.Register(p, nil)

	p.setHealthErr(errors.New("backend unreachable"))

	results := m.PerformHealthChecks(context.Background())
	require.Contains(t, results, "memory")
	assert.False(t, results["memory"].Healthy)
	assert.Contains(t, results["memory"].Message, "backend unreachable")

	snap, ok := m.HealthOf("memory")
	require.True(t, ok)
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	// Each failed pass increments by exactly one.
	m.PerformHealthChecks(context.Background())
	snap, _ = m.HealthOf("memory")
	assert.Equal(t, 2, snap.ConsecutiveFailures)

	// A healthy check resets the count.
	p.setHealthErr(nil)
	m.PerformHealthChecks(context.Background())
	snap, _ = m.HealthOf("memory")
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.True(t, snap.Healthy)
}

func TestPerformHealthChecksSkipsDisabled(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	m.Register(p, nil)
	m.SetEnabled("memory", false)

	results := m.PerformHealthChecks(context.Background())
	assert.Empty(t, results)
	assert.Zero(t, p.healthCheckCount())
}

func TestPerformHealthChecksPanicIsolation(t *testing.T) {
	t.Parallel()

	m := NewManager()
	bad := newFakeProvider("bad")
	bad.healthPanics = true
	good := newFakeProvider("good")
	m.Register(bad, nil)
	m.Register(good, nil)

	results := m.PerformHealthChecks(context.Background())
	require.Len(t, results, 2)
	assert.False(t, results["bad"].Healthy)
	assert.Contains(t, results["bad"].Message, "panicked")
	assert.True(t, results["good"].Healthy)
}

func TestUnhealthyProviderExcludedFromSelection(t *testing.T) {
	t.Parallel()

	m := NewManager(WithUnhealthyThreshold(2))
	primary := newFakeProvider("primary")
	backup := newFakeProvider("backup")
	m.Register(primary, &RegisterOptions{Priority: PriorityCritical, AutoEnable: true})
	m.Register(backup, &RegisterOptions{Priority: PriorityBackup, AutoEnable: true})

	primary.setHealthErr(errors.New("down"))
	for i := 0; i < 3; i++ {
		m.PerformHealthChecks(context.Background())
	}

	state, ok := m.HealthStateOf("primary")
	require.True(t, ok)
	assert.Equal(t, "unhealthy", state)

	best := m.Best()
	require.NotNil(t, best)
	assert.Equal(t, "backup", best.Name())

	// Recovery restores eligibility.
	primary.setHealthErr(nil)
	m.PerformHealthChecks(context.Background())
	best = m.Best()
	require.NotNil(t, best)
	assert.Equal(t, "primary", best.Name())
}

func TestHealthStateDegraded(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	m.Register(p, nil)

	p.setHealthErr(errors.New("flaky"))
	m.PerformHealthChecks(context.Background())

	state, ok := m.HealthStateOf("memory")
	require.True(t, ok)
	assert.Equal(t, "degraded", state)
}

func TestHealthMonitoringStartStop(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	m.Register(p, nil)

	m.StartHealthMonitoring(10 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return p.healthCheckCount() >= 2
	}, time.Second, 5*time.Millisecond)

	m.StopHealthMonitoring()
	after := p.healthCheckCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, p.healthCheckCount())

	// Stopping an idle manager is a no-op.
	m.StopHealthMonitoring()
}

func TestHealthMonitoringRestartReplacesLoop(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	m.Register(p, nil)

	m.StartHealthMonitoring(10 * time.Millisecond)
	m.StartHealthMonitoring(10 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return p.healthCheckCount() >= 2
	}, time.Second, 5*time.Millisecond)

	m.StopHealthMonitoring()
	after := p.healthCheckCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, p.healthCheckCount())
}

func TestInitializeAllSettlesEveryOutcome(t *testing.T) {
	t.Parallel()

	m := NewManager()
	good := newFakeProvider("good")
	bad := newFakeProvider("bad")
	bad.initErr = errors.New("config missing")
	m.Register(good, nil)
	m.Register(bad, nil)

	results := m.InitializeAll(context.Background(), time.Second)
	require.Len(t, results, 2)
	assert.NoError(t, results["good"])
	assert.ErrorContains(t, results["bad"], "config missing")
	assert.True(t, good.Initialized())
}

func TestInitializeAllTimeoutReportsStragglers(t *testing.T) {
	t.Parallel()

	m := NewManager()
	fast := newFakeProvider("fast")
	slow := newFakeProvider("slow")
	slow.initBlocks = true
	m.Register(fast, nil)
	m.Register(slow, nil)

	start := time.Now()
	results := m.InitializeAll(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.NoError(t, results["fast"])
	assert.ErrorIs(t, results["slow"], context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
}

func TestShutdownAllBoundedByTimeout(t *testing.T) {
	t.Parallel()

	m := NewManager()
	hung := newFakeProvider("hung")
	hung.shutdownBlock = make(chan struct{})
	defer close(hung.shutdownBlock)
	m.Register(hung, nil)

	start := time.Now()
	results := m.ShutdownAll(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, results["hung"], context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
}

func TestAuthenticateUnknownAndDisabled(t *testing.T) {
	t.Parallel()

	m := NewManager()
	_, err := m.Authenticate(context.Background(), "missing", auth.Credentials{})
	assert.ErrorIs(t, err, auth.ErrProviderNotFound)

	m.Register(newFakeProvider("memory"), nil)
	m.SetEnabled("memory", false)
	_, err = m.Authenticate(context.Background(), "memory", auth.Credentials{})
	assert.ErrorIs(t, err, auth.ErrProviderDisabled)
}

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(newFakeProvider("memory"), nil)

	session, err := m.Authenticate(context.Background(), "memory", auth.Credentials{Identifier: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", session.UserID)
	assert.Equal(t, "memory", session.Provider)
}

func TestAuthenticateRetriesInfrastructureErrors(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	p.authErr = errors.New("connection reset")
	m.Register(p, &RegisterOptions{
		Priority:        PriorityNormal,
		AutoEnable:      true,
		FailoverEnabled: false,
		MaxRetries:      2,
	})

	_, err := m.Authenticate(context.Background(), "memory", auth.Credentials{})
	require.Error(t, err)
	assert.Equal(t, 3, p.authCallCount())
}

func TestAuthenticateInvalidCredentialsNotRetried(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	p.authErr = auth.ErrInvalidCredentials
	m.Register(p, &RegisterOptions{
		Priority:        PriorityNormal,
		AutoEnable:      true,
		FailoverEnabled: false,
		MaxRetries:      2,
	})

	_, err := m.Authenticate(context.Background(), "memory", auth.Credentials{})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, 1, p.authCallCount())
}

func TestAuthenticateBestFailsOver(t *testing.T) {
	t.Parallel()

	m := NewManager()
	primary := newFakeProvider("primary")
	primary.authErr = errors.New("backend down")
	secondary := newFakeProvider("secondary")
	m.Register(primary, &RegisterOptions{
		Priority:        PriorityCritical,
		AutoEnable:      true,
		FailoverEnabled: true,
		MaxRetries:      1,
	})
	m.Register(secondary, &RegisterOptions{
		Priority:        PriorityNormal,
		AutoEnable:      true,
		FailoverEnabled: true,
		MaxRetries:      1,
	})

	session, name, err := m.AuthenticateBest(context.Background(), auth.Credentials{Identifier: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", name)
	assert.Equal(t, "secondary", session.Provider)
	assert.Positive(t, primary.authCallCount())
}

func TestAuthenticateBestInvalidCredentialsAreFinal(t *testing.T) {
	t.Parallel()

	m := NewManager()
	primary := newFakeProvider("primary")
	primary.authErr = auth.ErrInvalidCredentials
	secondary := newFakeProvider("secondary")
	m.Register(primary, &RegisterOptions{Priority: PriorityCritical, AutoEnable: true, FailoverEnabled: true})
	m.Register(secondary, &RegisterOptions{Priority: PriorityNormal, AutoEnable: true, FailoverEnabled: true})

	_, name, err := m.AuthenticateBest(context.Background(), auth.Credentials{Identifier: "alice"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, "primary", name)
	assert.Zero(t, secondary.authCallCount())
}

func TestAuthenticateBestNoneAvailable(t *testing.T) {
	t.Parallel()

	m := NewManager()
	_, _, err := m.AuthenticateBest(context.Background(), auth.Credentials{})
	assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
}

func TestAuthenticationOutcomeUpdatesHealth(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	m.Register(p, &RegisterOptions{
		Priority:        PriorityNormal,
		AutoEnable:      true,
		FailoverEnabled: false,
		MaxRetries:      1,
	})

	p.setHealthErr(errors.New("down"))
	m.PerformHealthChecks(context.Background())
	snap, _ := m.HealthOf("memory")
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	// A successful authentication counts as evidence of health.
	_, err := m.Authenticate(context.Background(), "memory", auth.Credentials{Identifier: "alice"})
	require.NoError(t, err)
	snap, _ = m.HealthOf("memory")
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestCredentialRejectionLeavesHealthAlone(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p := newFakeProvider("memory")
	m.Register(p, &RegisterOptions{
		Priority:   PriorityNormal,
		AutoEnable: true,
		MaxRetries: 1,
	})

	p.authErr = auth.ErrInvalidCredentials
	for i := 0; i < 5; i++ {
		_, err := m.Authenticate(context.Background(), "memory", auth.Credentials{Identifier: "alice"})
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	// Bad secrets say nothing about the provider's health, so it
	// stays eligible for selection.
	snap, _ := m.HealthOf("memory")
	assert.Zero(t, snap.ConsecutiveFailures)
	best := m.Best()
	require.NotNil(t, best)
	assert.Equal(t, "memory", best.Name())
}
