package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

func newTestProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()

	p := New("memory", opts...)
	p.AddUser("alice", "s3cret", "user-1")
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestAuthenticateRequiresInitialize(t *testing.T) {
	t.Parallel()

	p := New("memory")
	p.AddUser("alice", "s3cret", "user-1")

	_, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	assert.ErrorIs(t, err, auth.ErrNotInitialized)
	assert.ErrorIs(t, p.HealthCheck(context.Background()), auth.ErrNotInitialized)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)

	session, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "memory", session.Provider)
	assert.Equal(t, auth.StateAuthenticated, session.State)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.RefreshToken)
	assert.False(t, session.Expired())
}

func TestAuthenticateRejections(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)

	_, err := p.Authenticate(context.Background(), auth.Credentials{})
	assert.ErrorIs(t, err, auth.ErrNoCredentials)

	_, err = p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "wrong"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = p.Authenticate(context.Background(), auth.Credentials{Identifier: "bob", Secret: "s3cret"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestValidateSession(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	session, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	require.NoError(t, err)

	got, err := p.ValidateSession(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = p.ValidateSession(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = p.ValidateSession(context.Background(), "unknown")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestValidateSessionExpired(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, WithSessionTTL(time.Nanosecond))
	session, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = p.ValidateSession(context.Background(), session.Token)
	assert.ErrorIs(t, err, auth.ErrSessionExpired)

	// Expired entries are pruned, not just rejected.
	p.mu.RLock()
	_, sessionKept := p.sessions[session.Token]
	_, refreshKept := p.refresh[session.RefreshToken]
	p.mu.RUnlock()
	assert.False(t, sessionKept)
	assert.False(t, refreshKept)

	_, err = p.ValidateSession(context.Background(), session.Token)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestRefreshTokenRotates(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	session, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	require.NoError(t, err)

	refreshed, err := p.RefreshToken(context.Background(), session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, refreshed.UserID)
	assert.NotEqual(t, session.Token, refreshed.Token)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)

	// The old session and refresh token are gone.
	_, err = p.ValidateSession(context.Background(), session.Token)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	_, err = p.RefreshToken(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	// The new session is live.
	_, err = p.ValidateSession(context.Background(), refreshed.Token)
	assert.NoError(t, err)
}

func TestRevokeSession(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	session, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, p.RevokeSession(context.Background(), session.Token))

	_, err = p.ValidateSession(context.Background(), session.Token)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	_, err = p.RefreshToken(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	assert.ErrorIs(t, p.RevokeSession(context.Background(), session.Token), auth.ErrSessionNotFound)
}

func TestConfigure(t *testing.T) {
	t.Parallel()

	p := New("memory")
	err := p.Configure(map[string]any{
		"session_ttl": "2h",
		"users":       map[string]any{"bob": "hunter2"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))

	session, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "bob", Secret: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "bob", session.UserID)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), session.ExpiresAt, time.Minute)
}

func TestConfigureRejectsBadSettings(t *testing.T) {
	t.Parallel()

	p := New("memory")
	assert.Error(t, p.Configure(map[string]any{"session_ttl": 42}))
	assert.Error(t, p.Configure(map[string]any{"session_ttl": "soon"}))
	assert.Error(t, p.Configure(map[string]any{"users": "alice"}))
	assert.Error(t, p.Configure(map[string]any{"users": map[string]any{"alice": 7}}))
}

func TestShutdownClearsSessions(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	session, err := p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))

	_, err = p.ValidateSession(context.Background(), session.Token)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	assert.False(t, p.Initialized())
}

func TestMetricsTracking(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	_, _ = p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "s3cret"})
	_, _ = p.Authenticate(context.Background(), auth.Credentials{Identifier: "alice", Secret: "wrong"})

	m := p.Metrics()
	assert.Equal(t, int64(2), m.TotalAttempts)
	assert.Equal(t, int64(1), m.SuccessfulAuthentications)
	assert.Equal(t, int64(1), m.FailedAuthentications)

	p.ResetMetrics()
	assert.Zero(t, p.Metrics().TotalAttempts)
}
