package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/provider"
)

// DefaultSessionTTL bounds sessions minted from non-expiring keys.
const DefaultSessionTTL = time.Hour

// Provider authenticates raw API keys against a Store. Sessions reuse
// the key itself as the bearer token; there is no refresh flow.
type Provider struct {
	*provider.Base

	store      Store
	sessionTTL time.Duration
}

// Option is a functional option for the API key provider.
type Option func(*Provider)

// WithSessionTTL caps the lifetime of sessions minted from keys.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.sessionTTL = ttl
		}
	}
}

// New creates an API key provider over the given store.
func New(name string, store Store, opts ...Option) (*Provider, error) {
	if store == nil {
		return nil, fmt.Errorf("apikey: store is required")
	}
	p := &Provider{
		Base:       provider.NewBase(name, "apikey"),
		store:      store,
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Configure implements provider.Authenticator. Settings: "session_ttl"
// (duration string).
func (p *Provider) Configure(settings map[string]any) error {
	raw, ok := settings["session_ttl"]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("session_ttl must be a duration string")
	}
	ttl, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid session_ttl: %w", err)
	}
	p.sessionTTL = ttl
	return nil
}

// Initialize implements provider.Authenticator.
func (p *Provider) Initialize(ctx context.Context) error {
	p.MarkInitialized()
	return nil
}

// Authenticate implements provider.Authenticator. The raw key travels
// in Credentials.Secret; Identifier is ignored.
func (p *Provider) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Session, error) {
	start := time.Now()
	session, err := p.authenticate(ctx, creds.Secret)
	p.Observe(time.Since(start), err)
	return session, err
}

func (p *Provider) authenticate(ctx context.Context, rawKey string) (*auth.Session, error) {
	if !p.Initialized() {
		return nil, auth.ErrNotInitialized
	}
	key, err := p.lookup(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	return p.session(rawKey, key), nil
}

// session builds the session for a validated key. The key hash doubles
// as the session ID so login and later validations agree on identity.
func (p *Provider) session(rawKey string, key *Key) *auth.Session {
	now := time.Now()
	expiresAt := now.Add(p.sessionTTL)
	if !key.ExpiresAt.IsZero() && key.ExpiresAt.Before(expiresAt) {
		expiresAt = key.ExpiresAt
	}
	return &auth.Session{
		ID:        HashKey(rawKey),
		UserID:    key.UserID,
		Token:     rawKey,
		ExpiresAt: expiresAt,
		Provider:  p.Name(),
		CreatedAt: now,
		State:     auth.StateAuthenticated,
	}
}

// lookup resolves and checks a raw key against the store.
func (p *Provider) lookup(ctx context.Context, rawKey string) (*Key, error) {
	if rawKey == "" {
		return nil, auth.ErrNoCredentials
	}
	key, err := p.store.Get(ctx, HashKey(rawKey))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}
	if key.Revoked {
		return nil, auth.ErrInvalidCredentials
	}
	if key.Expired() {
		return nil, auth.ErrInvalidCredentials
	}
	return key, nil
}

// ValidateSession implements provider.Authenticator. The session token
// is the raw key, so validation is a fresh store lookup.
func (p *Provider) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	key, err := p.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, auth.ErrSessionExpired
		}
		return nil, err
	}
	return p.session(token, key), nil
}

// RefreshToken implements provider.Authenticator. API keys have no
// refresh flow.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error) {
	return nil, auth.ErrRefreshNotSupported
}

// RevokeSession implements provider.Authenticator. Revoking a session
// revokes the key itself.
func (p *Provider) RevokeSession(ctx context.Context, token string) error {
	err := p.store.Revoke(ctx, HashKey(token))
	if errors.Is(err, ErrKeyNotFound) {
		return auth.ErrSessionNotFound
	}
	return err
}

// HealthCheck implements provider.Authenticator. A store round trip
// with a throwaway probe key exercises the backend.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if !p.Initialized() {
		return auth.ErrNotInitialized
	}
	_, err := p.store.Get(ctx, HashKey("healthcheck-probe"))
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	return nil
}

// Capabilities implements provider.Authenticator.
func (p *Provider) Capabilities() []auth.Capability {
	return []auth.Capability{
		auth.CapabilityTokenAuth,
		auth.CapabilitySessionCheck,
		auth.CapabilityRevocation,
	}
}

// Shutdown implements provider.Authenticator.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.MarkShutdown()
	return nil
}
