// Package jwtauth implements a provider that issues and validates
// HMAC-signed JWT sessions. Credentials are checked by a pluggable
// verifier so the token mechanics stay independent of where accounts
// live.
package jwtauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/provider"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
)

// sessionClaim is the private claim carrying the session ID.
const sessionClaim = "sid"

// CredentialVerifier checks presented credentials and returns the user
// ID they map to.
type CredentialVerifier func(ctx context.Context, creds auth.Credentials) (string, error)

// Provider issues HMAC-signed JWT access tokens with opaque refresh
// tokens tracked in memory.
type Provider struct {
	*provider.Base

	issuer     string
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	verify     CredentialVerifier

	mu      sync.RWMutex
	refresh map[string]refreshRecord
	revoked map[string]time.Time // jti -> expiry
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

// Option is a functional option for the JWT provider.
type Option func(*Provider)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.accessTTL = ttl
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.refreshTTL = ttl
		}
	}
}

// WithCredentialVerifier sets the credential check run before issuing
// tokens.
func WithCredentialVerifier(fn CredentialVerifier) Option {
	return func(p *Provider) {
		p.verify = fn
	}
}

// New creates a JWT provider signing with the given symmetric key.
func New(name, issuer string, key []byte, opts ...Option) (*Provider, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("jwtauth: signing key is required")
	}

	p := &Provider{
		Base:       provider.NewBase(name, "jwt"),
		issuer:     issuer,
		key:        key,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		refresh:    make(map[string]refreshRecord),
		revoked:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.verify == nil {
		// Without a verifier every non-empty credential pair maps to
		// its identifier; deployments wire a real check.
		p.verify = func(_ context.Context, creds auth.Credentials) (string, error) {
			if creds.Identifier == "" || creds.Secret == "" {
				return "", auth.ErrNoCredentials
			}
			return creds.Identifier, nil
		}
	}
	return p, nil
}

// Configure implements provider.Authenticator. Settings: "access_ttl",
// "refresh_ttl" (duration strings), "issuer".
func (p *Provider) Configure(settings map[string]any) error {
	for key, target := range map[string]*time.Duration{
		"access_ttl":  &p.accessTTL,
		"refresh_ttl": &p.refreshTTL,
	} {
		raw, ok := settings[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%s must be a duration string", key)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = d
	}
	if raw, ok := settings["issuer"]; ok {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("issuer must be a string")
		}
		p.issuer = s
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
	session, err := p.authenticate(ctx, creds)
	p.Observe(time.Since(start), err)
	return session, err
}

func (p *Provider) authenticate(ctx context.Context, creds auth.Credentials) (*auth.Session, error) {
	if !p.Initialized() {
		return nil, auth.ErrNotInitialized
	}
	userID, err := p.verify(ctx, creds)
	if err != nil {
		return nil, err
	}
	return p.issueSession(userID)
}

// issueSession builds a signed access token and a refresh record.
func (p *Provider) issueSession(userID string) (*auth.Session, error) {
	now := time.Now()
	sessionID := uuid.NewString()

	tok, err := jwt.NewBuilder().
		Issuer(p.issuer).
		Subject(userID).
		JwtID(sessionID).
		IssuedAt(now).
		Expiration(now.Add(p.accessTTL)).
		Claim(sessionClaim, sessionID).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, p.key))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	refreshToken := uuid.NewString()
	p.mu.Lock()
	p.refresh[refreshToken] = refreshRecord{
		userID:    userID,
		expiresAt: now.Add(p.refreshTTL),
	}
	p.mu.Unlock()

	return &auth.Session{
		ID:           sessionID,
		UserID:       userID,
		Token:        string(signed),
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(p.accessTTL),
		Provider:     p.Name(),
		CreatedAt:    now,
		State:        auth.StateAuthenticated,
	}, nil
}

// ValidateSession implements provider.Authenticator. The token's
// signature and expiry are verified; revoked session IDs are rejected.
func (p *Provider) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, p.key),
		jwt.WithValidate(true),
	)
	if err != nil {
		if jwt.IsValidationError(err) {
			return nil, auth.ErrTokenExpired
		}
		return nil, auth.ErrInvalidToken
	}

	sessionID, _ := parsed.Get(sessionClaim)
	sid, _ := sessionID.(string)

	p.mu.RLock()
	_, isRevoked := p.revoked[sid]
	p.mu.RUnlock()
	if isRevoked {
		return nil, auth.ErrSessionExpired
	}

	return &auth.Session{
		ID:        sid,
		UserID:    parsed.Subject(),
		Token:     token,
		ExpiresAt: parsed.Expiration(),
		Provider:  p.Name(),
		CreatedAt: parsed.IssuedAt(),
		State:     auth.StateAuthenticated,
	}, nil
}

// RefreshToken implements provider.Authenticator. Refresh tokens are
// single-use.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error) {
	p.mu.Lock()
	rec, ok := p.refresh[refreshToken]
	if ok {
		delete(p.refresh, refreshToken)
	}
	p.mu.Unlock()

	if !ok {
		return nil, auth.ErrInvalidToken
	}
	if time.Now().After(rec.expiresAt) {
		return nil, auth.ErrTokenExpired
	}
	return p.issueSession(rec.userID)
}

// RevokeSession implements provider.Authenticator. The session ID is
// denylisted until the token would have expired anyway.
func (p *Provider) RevokeSession(ctx context.Context, token string) error {
	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, p.key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return auth.ErrInvalidToken
	}
	sessionID, _ := parsed.Get(sessionClaim)
	sid, _ := sessionID.(string)
	if sid == "" {
		return auth.ErrInvalidToken
	}

	p.mu.Lock()
	p.revoked[sid] = parsed.Expiration()
	// Drop denylist entries for tokens that can no longer be replayed.
	now := time.Now()
	for id, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, id)
		}
	}
	p.mu.Unlock()
	return nil
}

// HealthCheck implements provider.Authenticator. Signing and parsing a
// probe token exercises the full key path.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if !p.Initialized() {
		return auth.ErrNotInitialized
	}
	tok, err := jwt.NewBuilder().
		Issuer(p.issuer).
		Subject("healthcheck").
		Expiration(time.Now().Add(time.Minute)).
		Build()
	if err != nil {
		return err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, p.key))
	if err != nil {
		return err
	}
	_, err = jwt.Parse(signed, jwt.WithKey(jwa.HS256, p.key), jwt.WithValidate(true))
	return err
}

// Capabilities implements provider.Authenticator.
func (p *Provider) Capabilities() []auth.Capability {
	return []auth.Capability{
		auth.CapabilityPasswordAuth,
		auth.CapabilityTokenAuth,
		auth.CapabilitySessionCheck,
		auth.CapabilityRefresh,
		auth.CapabilityRevocation,
	}
}

// Shutdown implements provider.Authenticator.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.refresh = make(map[string]refreshRecord)
	p.revoked = make(map[string]time.Time)
	p.mu.Unlock()
	p.MarkShutdown()
	return nil
}
