// Package security provides the security collaborator consumed by the
// validation engine and the orchestrator: suspicious-activity
// heuristics, security header validation, per-client rate limiting,
// and an AES-GCM envelope for data at rest.
package security

import (
	"context"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

// Service is the security contract the core consumes. Implementations
// beyond the default one live outside the engine.
type Service interface {
	// DetectSuspiciousActivity evaluates the request context and
	// returns a non-empty reason when it looks risky.
	DetectSuspiciousActivity(ctx context.Context, sc *auth.SecurityContext) (string, error)

	// ValidateSecurityHeaders checks the request's security-relevant
	// headers for structural sanity.
	ValidateSecurityHeaders(ctx context.Context, sc *auth.SecurityContext) error

	// CheckRateLimit returns auth.ErrRateLimited when the key exceeds
	// its budget.
	CheckRateLimit(ctx context.Context, key string) error

	// EncryptSensitiveData seals plaintext for storage.
	EncryptSensitiveData(data []byte) ([]byte, error)

	// DecryptSensitiveData opens a sealed blob.
	DecryptSensitiveData(data []byte) ([]byte, error)

	// ClientIP extracts the effective client address from forwarded
	// headers, falling back to the direct peer address.
	ClientIP(remoteAddr string, headers map[string]string) string
}
