package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeUnknown},
		{"provider not found", ErrProviderNotFound, ErrorTypeProviderNotFound},
		{"invalid credentials", ErrInvalidCredentials, ErrorTypeInvalidCredentials},
		{"invalid token", ErrInvalidToken, ErrorTypeInvalidToken},
		{"token expired", ErrTokenExpired, ErrorTypeSessionExpired},
		{"session expired", ErrSessionExpired, ErrorTypeSessionExpired},
		{"rate limited", ErrRateLimited, ErrorTypeSecurityRisk},
		{"suspicious", ErrSuspiciousActivity, ErrorTypeSecurityRisk},
		{"wrapped", fmt.Errorf("auth failed: %w", ErrInvalidCredentials), ErrorTypeInvalidCredentials},
		{"unknown", errors.New("boom"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	e := WrapError(ErrorTypeInvalidCredentials, fmt.Errorf("password check: %w", ErrInvalidCredentials))
	require.NotNil(t, e)
	assert.True(t, errors.Is(e, ErrInvalidCredentials))
	assert.Equal(t, ErrorTypeInvalidCredentials, e.Type)
	assert.NotEmpty(t, e.Error())
}

func TestResultEnvelope(t *testing.T) {
	t.Parallel()

	ok := OK("session-1")
	assert.True(t, ok.Success)
	assert.Equal(t, "session-1", ok.Data)
	assert.Nil(t, ok.Error)

	fail := Fail[string](ErrorTypeValidation, "identifier is required")
	assert.False(t, fail.Success)
	require.NotNil(t, fail.Error)
	assert.Equal(t, ErrorTypeValidation, fail.Error.Type)

	fromErr := FailErr[string](ErrSessionExpired)
	require.NotNil(t, fromErr.Error)
	assert.Equal(t, ErrorTypeSessionExpired, fromErr.Error.Type)
}
