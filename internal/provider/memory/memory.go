// Package memory implements an in-memory credential provider. It backs
// development setups and tests; production deployments register the
// jwtauth or apikey providers instead.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/provider"
)

// DefaultSessionTTL is the session lifetime when none is configured.
const DefaultSessionTTL = time.Hour

// user is one configured account.
type user struct {
	id     string
	secret string
}

// Provider is an in-memory credential provider.
type Provider struct {
	*provider.Base

	sessionTTL time.Duration

	mu       sync.RWMutex
	users    map[string]user
	sessions map[string]*auth.Session
	refresh  map[string]string // refresh token -> session token
}

// Option is a functional option for the memory provider.
type Option func(*Provider)

// WithSessionTTL sets the lifetime of issued sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.sessionTTL = ttl
		}
	}
}

// New creates a memory provider.
func New(name string, opts ...Option) *Provider {
	p := &Provider{
		Base:       provider.NewBase(name, "memory"),
		sessionTTL: DefaultSessionTTL,
		users:      make(map[string]user),
		sessions:   make(map[string]*auth.Session),
		refresh:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddUser registers an account the provider will accept.
func (p *Provider) AddUser(identifier, secret, userID string) {
	p.mu.Lock()
	p.users[identifier] = user{id: userID, secret: secret}
	p.mu.Unlock()
}

// Configure implements provider.Authenticator. Settings:
// "session_ttl" (duration string) and "users" (map identifier ->
// secret; user IDs default to the identifier).
func (p *Provider) Configure(settings map[string]any) error {
	if raw, ok := settings["session_ttl"]; ok {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("session_ttl must be a duration string")
		}
		ttl, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid session_ttl: %w", err)
		}
		p.sessionTTL = ttl
	}
	if raw, ok := settings["users"]; ok {
		users, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("users must be a map of identifier to secret")
		}
		for identifier, secret := range users {
			s, ok := secret.(string)
			if !ok {
				return fmt.Errorf("secret for %q must be a string", identifier)
			}
			p.AddUser(identifier, s, identifier)
		}
	}
	return nil
}

// Initialize implements provider.Authenticator.
func (p *Provider) Initialize(ctx context.Context) error {
	p.MarkInitialized()
	return nil
}

// Authenticate implements provider.Authenticator.
func (p *Provider) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Session, error) {
	start := time.Now()
	session, err := p.authenticate(creds)
	p.Observe(time.Since(start), err)
	return session, err
}

func (p *Provider) authenticate(creds auth.Credentials) (*auth.Session, error) {
	if !p.Initialized() {
		return nil, auth.ErrNotInitialized
	}
	if creds.Identifier == "" || creds.Secret == "" {
		return nil, auth.ErrNoCredentials
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[creds.Identifier]
	if !ok || subtle.ConstantTimeCompare([]byte(u.secret), []byte(creds.Secret)) != 1 {
		return nil, auth.ErrInvalidCredentials
	}

	now := time.Now()
	session := &auth.Session{
		ID:           uuid.NewString(),
		UserID:       u.id,
		Token:        uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    now.Add(p.sessionTTL),
		Provider:     p.Name(),
		CreatedAt:    now,
		State:        auth.StateAuthenticated,
	}
	p.sessions[session.Token] = session
	p.refresh[session.RefreshToken] = session.Token
	return session, nil
}

// ValidateSession implements provider.Authenticator. Expired entries
// are dropped lazily on lookup.
func (p *Provider) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	p.mu.RLock()
	session, ok := p.sessions[token]
	p.mu.RUnlock()
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	if session.Expired() {
		p.mu.Lock()
		delete(p.sessions, token)
		delete(p.refresh, session.RefreshToken)
		p.mu.Unlock()
		return nil, auth.ErrSessionExpired
	}
	return session, nil
}

// RefreshToken implements provider.Authenticator.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	oldToken, ok := p.refresh[refreshToken]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	old, ok := p.sessions[oldToken]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}

	delete(p.sessions, oldToken)
	delete(p.refresh, refreshToken)

	now := time.Now()
	session := &auth.Session{
		ID:           uuid.NewString(),
		UserID:       old.UserID,
		Token:        uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    now.Add(p.sessionTTL),
		Provider:     p.Name(),
		CreatedAt:    now,
		State:        auth.StateAuthenticated,
	}
	p.sessions[session.Token] = session
	p.refresh[session.RefreshToken] = session.Token
	return session, nil
}

// RevokeSession implements provider.Authenticator.
func (p *Provider) RevokeSession(ctx context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.sessions[token]
	if !ok {
		return auth.ErrSessionNotFound
	}
	delete(p.sessions, token)
	delete(p.refresh, session.RefreshToken)
	return nil
}

// HealthCheck implements provider.Authenticator.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if !p.Initialized() {
		return auth.ErrNotInitialized
	}
	return nil
}

// Capabilities implements provider.Authenticator.
func (p *Provider) Capabilities() []auth.Capability {
	return []auth.Capability{
		auth.CapabilityPasswordAuth,
		auth.CapabilitySessionCheck,
		auth.CapabilityRefresh,
		auth.CapabilityRevocation,
	}
}

// Shutdown implements provider.Authenticator.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.sessions = make(map[string]*auth.Session)
	p.refresh = make(map[string]string)
	p.mu.Unlock()
	p.MarkShutdown()
	return nil
}
