package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/session"
)

// accountResult classifies account-store errors onto the taxonomy.
func accountError[T any](err error) auth.Result[T] {
	switch {
	case errors.Is(err, session.ErrAccountExists),
		errors.Is(err, session.ErrAccountActivated):
		return auth.Result[T]{Success: false, Error: auth.WrapError(auth.ErrorTypeValidation, err)}
	case errors.Is(err, session.ErrAccountNotFound):
		return auth.Result[T]{Success: false, Error: auth.WrapError(auth.ErrorTypeValidation, err)}
	case errors.Is(err, session.ErrInvalidActivationCode):
		return auth.Result[T]{Success: false, Error: auth.WrapError(auth.ErrorTypeSecurityRisk, err)}
	default:
		return auth.FailErr[T](err)
	}
}

// CreateUser stores a new unactivated account and returns its
// activation code.
func (o *Orchestrator) CreateUser(
	ctx context.Context, userID, secret string, metadata map[string]string,
) auth.Result[string] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CreateUser")
	defer span.End()

	if o.accounts == nil {
		return auth.Fail[string](auth.ErrorTypeValidation, "account operations are not configured")
	}
	if userID == "" || secret == "" {
		return auth.Fail[string](auth.ErrorTypeValidation, "user id and secret are required")
	}

	code, err := o.accounts.CreateAccount(ctx, &session.Account{
		UserID:    userID,
		Secret:    secret,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	})
	if err != nil {
		return accountError[string](err)
	}

	o.logger.Log(observability.Event{
		Type:    "user_created",
		Message: "account created, pending activation",
		Attrs:   map[string]string{"user_id": userID},
	})
	return auth.OK(code)
}

// ActivateUser activates an account with its one-time code.
func (o *Orchestrator) ActivateUser(ctx context.Context, userID, code string) auth.Result[bool] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ActivateUser")
	defer span.End()

	if o.accounts == nil {
		return auth.Fail[bool](auth.ErrorTypeValidation, "account operations are not configured")
	}

	if err := o.accounts.ActivateAccount(ctx, userID, code); err != nil {
		if errors.Is(err, session.ErrInvalidActivationCode) {
			o.logger.LogSecurity(observability.Event{
				Type:    "activation_rejected",
				Message: "wrong activation code",
				Attrs:   map[string]string{"user_id": userID},
			})
		}
		return accountError[bool](err)
	}

	o.logger.Log(observability.Event{
		Type:    "user_activated",
		Message: "account activated",
		Attrs:   map[string]string{"user_id": userID},
	})
	return auth.OK(true)
}

// ResendActivationCode issues a fresh activation code for an
// unactivated account.
func (o *Orchestrator) ResendActivationCode(ctx context.Context, userID string) auth.Result[string] {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ResendActivationCode")
	defer span.End()

	if o.accounts == nil {
		return auth.Fail[string](auth.ErrorTypeValidation, "account operations are not configured")
	}

	code, err := o.accounts.ResendActivationCode(ctx, userID)
	if err != nil {
		return accountError[string](err)
	}
	return auth.OK(code)
}
