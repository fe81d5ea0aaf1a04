// Package orchestrator composes the provider manager and the
// validation engine with the external collaborators (repository,
// event log, metrics, security service, configuration) and exposes
// the end-to-end authentication lifecycle. The orchestrator itself is
// pure composition: every operation validates, delegates, persists,
// and reports through a discriminated result instead of raising.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/provider"
	"github.com/vyrodovalexey/avauth/internal/security"
	"github.com/vyrodovalexey/avauth/internal/session"
	"github.com/vyrodovalexey/avauth/internal/validator"
)

const (
	// DefaultShutdownTimeout bounds Shutdown when the caller passes
	// zero.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultRefreshTTL is how long a refresh token outlives its
	// session.
	DefaultRefreshTTL = 24 * time.Hour
)

// tracerName identifies the orchestrator's spans.
const tracerName = "avauth/orchestrator"

// Deps are the collaborators the orchestrator composes. All fields
// except Accounts are required.
type Deps struct {
	Providers  *provider.Manager
	Validator  *validator.Validator
	Repository session.Repository

	// Accounts enables the local account operations. Optional; when
	// nil, account operations report a validation error.
	Accounts session.AccountStore

	Logger   observability.EventLog
	Metrics  observability.Metrics
	Security security.Service
	Config   *config.Store
}

func (d *Deps) validate() error {
	switch {
	case d.Providers == nil:
		return errors.New("orchestrator: provider manager is required")
	case d.Validator == nil:
		return errors.New("orchestrator: validator is required")
	case d.Repository == nil:
		return errors.New("orchestrator: repository is required")
	case d.Logger == nil:
		return errors.New("orchestrator: logger is required")
	case d.Metrics == nil:
		return errors.New("orchestrator: metrics recorder is required")
	case d.Security == nil:
		return errors.New("orchestrator: security service is required")
	case d.Config == nil:
		return errors.New("orchestrator: config store is required")
	}
	return nil
}

// Orchestrator is the authentication façade.
type Orchestrator struct {
	providers  *provider.Manager
	validator  *validator.Validator
	repository session.Repository
	accounts   session.AccountStore
	logger     observability.EventLog
	metrics    observability.Metrics
	security   security.Service
	config     *config.Store

	refreshTTL time.Duration
	tracer     trace.Tracer
}

// Option is a functional option for the orchestrator.
type Option func(*Orchestrator)

// WithRefreshTTL overrides how long refresh tokens remain valid.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.refreshTTL = ttl
		}
	}
}

// New creates an orchestrator. A missing required collaborator is the
// one condition reported as a hard error; every later operational
// failure surfaces as a failed result instead.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		providers:  deps.Providers,
		validator:  deps.Validator,
		repository: deps.Repository,
		accounts:   deps.Accounts,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		security:   deps.Security,
		config:     deps.Config,
		refreshTTL: DefaultRefreshTTL,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Initialize initializes every registered provider with settle-all
// semantics and then starts health monitoring. Provider failures are
// reported in the returned map; the orchestrator still starts
// monitoring so failed providers are retried by health checks.
func (o *Orchestrator) Initialize(ctx context.Context, timeout time.Duration) map[string]error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Initialize")
	defer span.End()

	results := o.providers.InitializeAll(ctx, timeout)

	interval := o.config.GetDuration("health.checkInterval")
	if interval <= 0 {
		interval = provider.DefaultHealthCheckInterval
	}
	o.providers.StartHealthMonitoring(interval)

	for name, err := range results {
		if err != nil {
			o.logger.LogError(err, map[string]string{
				"operation": "initialize",
				"provider":  name,
			})
		}
	}
	return results
}

// RegisterProvider registers a provider with the manager.
func (o *Orchestrator) RegisterProvider(p provider.Authenticator, opts *provider.RegisterOptions) {
	o.providers.Register(p, opts)
}

// Provider returns a registered provider by name.
func (o *Orchestrator) Provider(name string) provider.Authenticator {
	return o.providers.Get(name)
}

// ProviderNames lists registered provider names in priority order.
func (o *Orchestrator) ProviderNames() []string {
	return o.providers.List(false, true)
}

// Authenticate validates the credentials, resolves the named provider
// (or the best provider when name is empty), delegates, and persists
// the resulting session. Every failure path is a classified result.
func (o *Orchestrator) Authenticate(
	ctx context.Context, providerName string, creds auth.Credentials, sc *auth.SecurityContext,
) auth.Result[*auth.Session] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Authenticate",
		trace.WithAttributes(attribute.String("auth.provider", providerName)),
	)
	defer span.End()

	start := time.Now()
	result := o.authenticate(ctx, providerName, creds, sc)
	duration := time.Since(start)

	o.metrics.RecordAttempt("authenticate", duration)
	if result.Success {
		o.metrics.RecordSuccess("authenticate", duration)
		o.logger.LogSecurity(observability.Event{
			Type:    "authentication_success",
			Message: "user authenticated",
			Attrs: map[string]string{
				"provider": result.Data.Provider,
				"user_id":  result.Data.UserID,
			},
		})
	} else {
		o.metrics.RecordFailure("authenticate", string(result.Error.Type), duration)
		o.logger.LogSecurity(observability.Event{
			Type:    "authentication_failure",
			Message: result.Error.Message,
			Attrs: map[string]string{
				"provider":   providerName,
				"error_type": string(result.Error.Type),
			},
		})
	}
	return result
}

func (o *Orchestrator) authenticate(
	ctx context.Context, providerName string, creds auth.Credentials, sc *auth.SecurityContext,
) auth.Result[*auth.Session] {
	if v := o.validator.ValidateCredentials(ctx, creds, sc); !v.Success {
		return auth.Result[*auth.Session]{Success: false, Error: v.Error}
	}
	if authErr := o.runPolicyRules(ctx, creds, sc); authErr != nil {
		return auth.Result[*auth.Session]{Success: false, Error: authErr}
	}

	var (
		sess *auth.Session
		err  error
	)
	if providerName == "" {
		sess, _, err = o.providers.AuthenticateBest(ctx, creds)
	} else {
		if !o.providers.Has(providerName) {
			return auth.Fail[*auth.Session](auth.ErrorTypeProviderNotFound,
				"provider "+providerName+" is not registered")
		}
		sess, err = o.providers.Authenticate(ctx, providerName, creds)
	}
	if err != nil {
		return auth.FailErr[*auth.Session](err)
	}

	sess.State = auth.StateAuthenticated
	if err := o.persistSession(ctx, sess); err != nil {
		return auth.FailErr[*auth.Session](err)
	}
	return auth.OK(sess)
}

// runPolicyRules executes the configured validation rules against the
// presented credentials. Run options follow the validation section of
// the runtime configuration so hot reloads take effect immediately.
func (o *Orchestrator) runPolicyRules(
	ctx context.Context, creds auth.Credentials, sc *auth.SecurityContext,
) *auth.Error {
	data := map[string]any{
		"identifier": creds.Identifier,
		"secret":     creds.Secret,
	}
	if len(creds.Scope) > 0 {
		data["scope"] = creds.Scope
	}
	if len(creds.Metadata) > 0 {
		data["metadata"] = creds.Metadata
	}

	result := o.validator.ValidateWithRules(ctx, data, validator.Options{
		Timeout:  o.config.GetDuration("validation.timeout"),
		Parallel: o.config.GetBool("validation.parallel"),
		FailFast: o.config.GetBool("validation.failFast"),
		Context:  sc,
	})
	if result.Valid {
		return nil
	}
	return auth.NewError(auth.ErrorTypeValidation, strings.Join(result.Errors, "; "))
}

func (o *Orchestrator) persistSession(ctx context.Context, sess *auth.Session) error {
	if err := o.repository.StoreSession(ctx, sess); err != nil {
		return err
	}
	if sess.RefreshToken == "" {
		return nil
	}
	return o.repository.StoreRefreshToken(ctx, &session.RefreshRecord{
		Token:     sess.RefreshToken,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt.Add(o.refreshTTL),
	})
}

// checkHeaders runs the security header validation shared by the
// session-facing operations.
func (o *Orchestrator) checkHeaders(ctx context.Context, sc *auth.SecurityContext) *auth.Error {
	if err := o.security.ValidateSecurityHeaders(ctx, sc); err != nil {
		o.logger.LogSecurity(observability.Event{
			Type:    "security_headers_rejected",
			Message: err.Error(),
		})
		return auth.WrapError(auth.ErrorTypeSecurityRisk, err)
	}
	return nil
}

// ValidateSession checks the security headers, delegates token
// validation to the providers in priority order, and confirms the
// session is still present in the repository (a repository miss means
// it was signed out or expired).
func (o *Orchestrator) ValidateSession(
	ctx context.Context, token string, sc *auth.SecurityContext,
) auth.Result[*auth.Session] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ValidateSession")
	defer span.End()

	start := time.Now()
	result := o.validateSession(ctx, token, sc)
	duration := time.Since(start)

	o.metrics.RecordAttempt("validate_session", duration)
	if result.Success {
		o.metrics.RecordSuccess("validate_session", duration)
	} else {
		o.metrics.RecordFailure("validate_session", string(result.Error.Type), duration)
	}
	return result
}

func (o *Orchestrator) validateSession(
	ctx context.Context, token string, sc *auth.SecurityContext,
) auth.Result[*auth.Session] {
	if authErr := o.checkHeaders(ctx, sc); authErr != nil {
		return auth.Result[*auth.Session]{Success: false, Error: authErr}
	}

	// Token formats are provider-specific (JWTs, API keys, opaque
	// handles), so structural checks belong to the provider that
	// issued the token, not here.
	sess, err := o.resolveToken(ctx, token)
	if err != nil {
		return auth.FailErr[*auth.Session](err)
	}

	if _, err := o.repository.GetSession(ctx, sess.ID); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return auth.FailErr[*auth.Session](auth.ErrSessionExpired)
		}
		return auth.FailErr[*auth.Session](err)
	}

	sess.State = auth.StateAuthenticated
	return auth.OK(sess)
}

// resolveToken asks each enabled provider in priority order to
// validate the token. The first success wins; the last classified
// error is reported when none does.
func (o *Orchestrator) resolveToken(ctx context.Context, token string) (*auth.Session, error) {
	names := o.providers.List(true, true)
	if len(names) == 0 {
		return nil, auth.ErrProviderNotFound
	}

	lastErr := error(auth.ErrInvalidToken)
	for _, name := range names {
		p := o.providers.Get(name)
		if p == nil {
			continue
		}
		sess, err := p.ValidateSession(ctx, token)
		if err == nil {
			return sess, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// RefreshToken exchanges a refresh token for a new session via the
// provider that issued the original session. A failed refresh removes
// the stale session so the flow lands back at unauthenticated.
func (o *Orchestrator) RefreshToken(
	ctx context.Context, refreshToken string, sc *auth.SecurityContext,
) auth.Result[*auth.Session] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RefreshToken")
	defer span.End()

	start := time.Now()
	result := o.refreshToken(ctx, refreshToken, sc)
	duration := time.Since(start)

	o.metrics.RecordAttempt("refresh_token", duration)
	if result.Success {
		o.metrics.RecordSuccess("refresh_token", duration)
	} else {
		o.metrics.RecordFailure("refresh_token", string(result.Error.Type), duration)
	}
	return result
}

func (o *Orchestrator) refreshToken(
	ctx context.Context, refreshToken string, sc *auth.SecurityContext,
) auth.Result[*auth.Session] {
	if authErr := o.checkHeaders(ctx, sc); authErr != nil {
		return auth.Result[*auth.Session]{Success: false, Error: authErr}
	}

	rec, err := o.repository.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return auth.FailErr[*auth.Session](auth.ErrSessionExpired)
		}
		return auth.FailErr[*auth.Session](err)
	}

	providerName := ""
	if old, err := o.repository.GetSession(ctx, rec.SessionID); err == nil {
		providerName = old.Provider
	}

	sess, err := o.refreshWithProvider(ctx, providerName, refreshToken)
	if err != nil {
		// The refresh failed; the old session is no longer renewable.
		_ = o.repository.RemoveRefreshToken(ctx, refreshToken)
		_ = o.repository.RemoveSession(ctx, rec.SessionID)
		return auth.FailErr[*auth.Session](err)
	}

	_ = o.repository.RemoveRefreshToken(ctx, refreshToken)
	_ = o.repository.RemoveSession(ctx, rec.SessionID)

	sess.State = auth.StateAuthenticated
	if err := o.persistSession(ctx, sess); err != nil {
		return auth.FailErr[*auth.Session](err)
	}
	return auth.OK(sess)
}

func (o *Orchestrator) refreshWithProvider(
	ctx context.Context, providerName, refreshToken string,
) (*auth.Session, error) {
	if providerName != "" {
		p := o.providers.Get(providerName)
		if p == nil {
			return nil, auth.ErrProviderNotFound
		}
		return p.RefreshToken(ctx, refreshToken)
	}

	// Issuing session is gone; try providers in priority order.
	lastErr := error(auth.ErrSessionExpired)
	for _, name := range o.providers.List(true, true) {
		p := o.providers.Get(name)
		if p == nil {
			continue
		}
		sess, err := p.RefreshToken(ctx, refreshToken)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, auth.ErrRefreshNotSupported) {
			lastErr = err
		}
	}
	return nil, lastErr
}

// SignOut revokes the session behind the token with its provider and
// removes it from the repository. Signing out an unknown token is a
// classified failure, not a panic.
func (o *Orchestrator) SignOut(
	ctx context.Context, token string, sc *auth.SecurityContext,
) auth.Result[bool] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.SignOut")
	defer span.End()

	start := time.Now()
	result := o.signOut(ctx, token, sc)
	duration := time.Since(start)

	o.metrics.RecordAttempt("sign_out", duration)
	if result.Success {
		o.metrics.RecordSuccess("sign_out", duration)
	} else {
		o.metrics.RecordFailure("sign_out", string(result.Error.Type), duration)
	}
	return result
}

func (o *Orchestrator) signOut(
	ctx context.Context, token string, sc *auth.SecurityContext,
) auth.Result[bool] {
	if authErr := o.checkHeaders(ctx, sc); authErr != nil {
		return auth.Result[bool]{Success: false, Error: authErr}
	}

	sess, err := o.resolveToken(ctx, token)
	if err != nil {
		return auth.FailErr[bool](err)
	}

	if p := o.providers.Get(sess.Provider); p != nil {
		if err := p.RevokeSession(ctx, token); err != nil {
			o.logger.LogError(err, map[string]string{
				"operation": "sign_out",
				"provider":  sess.Provider,
			})
		}
	}

	if err := o.repository.RemoveSession(ctx, sess.ID); err != nil {
		return auth.FailErr[bool](err)
	}
	if sess.RefreshToken != "" {
		_ = o.repository.RemoveRefreshToken(ctx, sess.RefreshToken)
	}

	o.logger.LogSecurity(observability.Event{
		Type:    "sign_out",
		Message: "session signed out",
		Attrs: map[string]string{
			"user_id":  sess.UserID,
			"provider": sess.Provider,
		},
	})
	return auth.OK(true)
}

// GlobalSignOut removes every session and refresh token belonging to
// a user and reports how many sessions were removed.
func (o *Orchestrator) GlobalSignOut(
	ctx context.Context, userID string, sc *auth.SecurityContext,
) auth.Result[int] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.GlobalSignOut",
		trace.WithAttributes(attribute.String("auth.user_id", userID)),
	)
	defer span.End()

	start := time.Now()
	result := o.globalSignOut(ctx, userID, sc)
	duration := time.Since(start)

	o.metrics.RecordAttempt("global_sign_out", duration)
	if result.Success {
		o.metrics.RecordSuccess("global_sign_out", duration)
	} else {
		o.metrics.RecordFailure("global_sign_out", string(result.Error.Type), duration)
	}
	return result
}

func (o *Orchestrator) globalSignOut(
	ctx context.Context, userID string, sc *auth.SecurityContext,
) auth.Result[int] {
	if authErr := o.checkHeaders(ctx, sc); authErr != nil {
		return auth.Result[int]{Success: false, Error: authErr}
	}
	if userID == "" {
		return auth.Fail[int](auth.ErrorTypeValidation, "user id must not be empty")
	}

	removed, err := o.repository.RemoveAllForUser(ctx, userID)
	if err != nil {
		return auth.FailErr[int](err)
	}

	o.logger.LogSecurity(observability.Event{
		Type:    "global_sign_out",
		Message: "all user sessions signed out",
		Attrs:   map[string]string{"user_id": userID},
	})
	return auth.OK(removed)
}

// Shutdown stops health monitoring and shuts every provider down
// with settle-all semantics bounded by the timeout (default 30s).
// Control returns within roughly the bound even when a provider's
// shutdown hangs.
func (o *Orchestrator) Shutdown(ctx context.Context, timeout time.Duration) map[string]error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Shutdown")
	defer span.End()

	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	o.providers.StopHealthMonitoring()
	results := o.providers.ShutdownAll(ctx, timeout)

	for name, err := range results {
		if err != nil {
			o.logger.LogError(err, map[string]string{
				"operation": "shutdown",
				"provider":  name,
			})
		}
	}
	return results
}
