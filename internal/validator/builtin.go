package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Metric operation names for the built-in checks.
const (
	opValidateCredentials = "validate_credentials"
	opValidateToken       = "validate_token"
)

// ValidateCredentials runs the built-in structural checks on presented
// credentials plus the security pass (suspicious-activity detection
// and rate limiting). Structural problems classify as
// VALIDATION_ERROR, security findings as SECURITY_RISK. An attempt and
// a success/failure metric are recorded regardless of outcome.
func (v *Validator) ValidateCredentials(ctx context.Context, creds auth.Credentials, sc *auth.SecurityContext) auth.Result[Result] {
	start := time.Now()
	result := v.validateCredentials(ctx, creds, sc)

	duration := time.Since(start)
	v.metrics.RecordAttempt(opValidateCredentials, duration)
	if result.Success {
		v.metrics.RecordSuccess(opValidateCredentials, duration)
	} else {
		v.metrics.RecordFailure(opValidateCredentials, string(result.Error.Type), duration)
	}
	v.recordOutcome(result.Success)
	return result
}

func (v *Validator) validateCredentials(ctx context.Context, creds auth.Credentials, sc *auth.SecurityContext) auth.Result[Result] {
	var problems []string
	if strings.TrimSpace(creds.Identifier) == "" {
		problems = append(problems, "identifier must not be empty")
	}
	if len(creds.Secret) < v.minSecretLength {
		problems = append(problems, fmt.Sprintf("secret must be at least %d characters", v.minSecretLength))
	}
	if len(problems) > 0 {
		return auth.Fail[Result](auth.ErrorTypeValidation, strings.Join(problems, "; "))
	}

	if v.security != nil {
		reason, err := v.security.DetectSuspiciousActivity(ctx, sc)
		if err != nil {
			v.logger.Error("suspicious activity detection failed",
				observability.Error(err),
			)
			return auth.Fail[Result](auth.ErrorTypeSecurityRisk, "security evaluation unavailable")
		}
		if reason != "" {
			return auth.Fail[Result](auth.ErrorTypeSecurityRisk, reason)
		}

		key := creds.Identifier
		if sc != nil && sc.IPAddress != "" {
			key = sc.IPAddress
		}
		if err := v.security.CheckRateLimit(ctx, key); err != nil {
			return auth.Fail[Result](auth.ErrorTypeSecurityRisk, err.Error())
		}
	}

	return auth.OK(Passed())
}

// ValidateToken runs the built-in structural check on a bearer token.
// The token must parse as a compact JWS; signatures are not verified
// here, that is the provider's job. Malformed input classifies as
// INVALID_TOKEN.
func (v *Validator) ValidateToken(token string) auth.Result[Result] {
	start := time.Now()
	result := v.validateToken(token)

	duration := time.Since(start)
	v.metrics.RecordAttempt(opValidateToken, duration)
	if result.Success {
		v.metrics.RecordSuccess(opValidateToken, duration)
	} else {
		v.metrics.RecordFailure(opValidateToken, string(result.Error.Type), duration)
	}
	v.recordOutcome(result.Success)
	return result
}

func (v *Validator) validateToken(token string) auth.Result[Result] {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Fail[Result](auth.ErrorTypeInvalidToken, "token must not be empty")
	}
	if strings.Count(token, ".") != 2 {
		return auth.Fail[Result](auth.ErrorTypeInvalidToken, "token is not in compact JWS form")
	}
	if _, err := jws.Parse([]byte(token)); err != nil {
		return auth.Fail[Result](auth.ErrorTypeInvalidToken, fmt.Sprintf("malformed token: %v", err))
	}
	return auth.OK(Passed())
}
