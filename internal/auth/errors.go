package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies a failed result for callers that branch on the
// failure kind instead of unwrapping errors.
type ErrorType string

// Error taxonomy. Every failed Result carries exactly one of these.
const (
	ErrorTypeProviderNotFound   ErrorType = "PROVIDER_NOT_FOUND"
	ErrorTypeValidation         ErrorType = "VALIDATION_ERROR"
	ErrorTypeInvalidToken       ErrorType = "INVALID_TOKEN"
	ErrorTypeSecurityRisk       ErrorType = "SECURITY_RISK"
	ErrorTypeSessionExpired     ErrorType = "SESSION_EXPIRED"
	ErrorTypeInvalidCredentials ErrorType = "INVALID_CREDENTIALS"
	ErrorTypeUnknown            ErrorType = "unknown_error"
)

// Sentinel errors for authentication operations.
var (
	// ErrNoCredentials indicates that no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials indicates that the provided credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates that the token is malformed or unverifiable.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionExpired indicates that the session is no longer valid.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionNotFound indicates that no session matches the token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProviderNotFound indicates that no provider is registered under the name.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderDisabled indicates the provider is registered but disabled.
	ErrProviderDisabled = errors.New("provider disabled")

	// ErrProviderUnavailable indicates no eligible provider could serve the call.
	ErrProviderUnavailable = errors.New("no provider available")

	// ErrNotInitialized indicates the provider has not been initialized.
	ErrNotInitialized = errors.New("provider not initialized")

	// ErrRefreshNotSupported indicates the provider cannot refresh tokens.
	ErrRefreshNotSupported = errors.New("refresh not supported")

	// ErrRateLimited indicates the caller exceeded the rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrSuspiciousActivity indicates the security service flagged the request.
	ErrSuspiciousActivity = errors.New("suspicious activity detected")
)

// Error is an authentication error with a classified type.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error.
func NewError(typ ErrorType, message string) *Error {
	return &Error{Type: typ, Message: message}
}

// WrapError wraps an error with a classified type.
func WrapError(typ ErrorType, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: typ, Message: err.Error(), Cause: err}
}

// Classify maps an arbitrary error onto the taxonomy. Unrecognized
// errors map to ErrorTypeUnknown.
func Classify(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, ErrProviderNotFound):
		return ErrorTypeProviderNotFound
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrNoCredentials):
		return ErrorTypeInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return ErrorTypeInvalidToken
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionNotFound):
		return ErrorTypeSessionExpired
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrSuspiciousActivity):
		return ErrorTypeSecurityRisk
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeValidation
	default:
		var ae *Error
		if errors.As(err, &ae) {
			return ae.Type
		}
		return ErrorTypeUnknown
	}
}
