// Package session provides durable storage for authenticated sessions,
// refresh tokens, and local account records, with in-memory and Redis
// backed implementations.
package session

import (
	"context"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

// Account is a locally stored user account. Secret holds the
// credential material in whatever form the owning provider uses
// (hash or opaque reference), never plaintext by convention. New
// accounts start unactivated and carry a one-time activation code.
type Account struct {
	UserID         string            `json:"user_id"`
	Secret         string            `json:"secret"`
	Activated      bool              `json:"activated"`
	ActivationCode string            `json:"activation_code,omitempty"`
	Disabled       bool              `json:"disabled"`
	CreatedAt      time.Time         `json:"created_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RefreshRecord binds a refresh token to the session it can renew.
type RefreshRecord struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Repository stores sessions and refresh tokens. Implementations must
// be safe for concurrent use. Lookups of absent or expired entries
// return auth.ErrSessionNotFound.
type Repository interface {
	// StoreSession persists a session until its ExpiresAt.
	StoreSession(ctx context.Context, session *auth.Session) error

	// GetSession returns a live session by ID.
	GetSession(ctx context.Context, id string) (*auth.Session, error)

	// RemoveSession deletes a session. Removing an absent session is
	// not an error.
	RemoveSession(ctx context.Context, id string) error

	// SessionsForUser returns all live sessions belonging to a user.
	SessionsForUser(ctx context.Context, userID string) ([]*auth.Session, error)

	// StoreRefreshToken persists a refresh record until its ExpiresAt.
	StoreRefreshToken(ctx context.Context, rec *RefreshRecord) error

	// GetRefreshToken returns a live refresh record by token.
	GetRefreshToken(ctx context.Context, token string) (*RefreshRecord, error)

	// RemoveRefreshToken deletes a refresh record.
	RemoveRefreshToken(ctx context.Context, token string) error

	// RemoveAllForUser deletes every session and refresh record
	// belonging to a user and reports how many sessions were removed.
	RemoveAllForUser(ctx context.Context, userID string) (int, error)

	// Clear deletes everything the repository holds.
	Clear(ctx context.Context) error

	// Close releases backing resources.
	Close() error
}

// AccountStore stores local account records. Implementations must be
// safe for concurrent use.
type AccountStore interface {
	// CreateAccount stores a new unactivated account and returns its
	// activation code. Duplicate user IDs report ErrAccountExists.
	CreateAccount(ctx context.Context, acct *Account) (string, error)

	// GetAccount returns an account by user ID.
	GetAccount(ctx context.Context, userID string) (*Account, error)

	// ActivateAccount marks an account activated when the code
	// matches. A wrong code reports ErrInvalidActivationCode.
	ActivateAccount(ctx context.Context, userID, code string) error

	// ResendActivationCode issues a fresh activation code for an
	// unactivated account. Already-activated accounts report
	// ErrAccountActivated.
	ResendActivationCode(ctx context.Context, userID string) (string, error)

	// UpdateAccount replaces an existing account.
	UpdateAccount(ctx context.Context, acct *Account) error

	// DeleteAccount removes an account.
	DeleteAccount(ctx context.Context, userID string) error
}
