package auth

import (
	"time"
)

// Credentials carries the material a caller presents to a provider.
type Credentials struct {
	// Identifier is the login name, email, client ID, or equivalent.
	Identifier string `json:"identifier"`

	// Secret is the password, API key, assertion, or equivalent.
	Secret string `json:"secret"`

	// Scope optionally narrows what the resulting session may access.
	Scope []string `json:"scope,omitempty"`

	// Metadata carries provider-specific extras (tenant, realm, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SecurityContext is per-request metadata used for risk evaluation.
type SecurityContext struct {
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// FlowState tracks where a session is in the authentication lifecycle.
type FlowState string

// Authentication flow states.
const (
	StateUnauthenticated FlowState = "unauthenticated"
	StateAuthenticating  FlowState = "authenticating"
	StateAuthenticated   FlowState = "authenticated"
	StateRefreshing      FlowState = "refreshing"
	StateSessionExpired  FlowState = "session_expired"
	StateSignedOut       FlowState = "signed_out"
)

// Session represents an established authentication session.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"created_at"`
	State        FlowState `json:"state,omitempty"`
}

// Expired reports whether the session's expiry has passed.
func (s *Session) Expired() bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().After(s.ExpiresAt)
}

// Capability describes an operation a provider supports.
type Capability string

// Provider capabilities.
const (
	CapabilityPasswordAuth Capability = "password_auth"
	CapabilityTokenAuth    Capability = "token_auth"
	CapabilityRefresh      Capability = "refresh"
	CapabilitySessionCheck Capability = "session_check"
	CapabilityRevocation   Capability = "revocation"
	CapabilityMFA          Capability = "mfa"
)

// HealthState is the coarse health of a single provider.
type HealthState string

// Provider health states. A provider moves from healthy to degraded on
// the first failed check, to unhealthy once consecutive failures exceed
// the manager's threshold, and back to healthy on the next success.
const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
)
