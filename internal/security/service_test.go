package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T, opts ...ServiceOption) *DefaultService {
	t.Helper()

	s, err := NewDefaultService(testKey, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewDefaultServiceRejectsBadKey(t *testing.T) {
	t.Parallel()

	_, err := NewDefaultService(nil)
	assert.Error(t, err)
	_, err = NewDefaultService([]byte("too-short"))
	assert.Error(t, err)
}

func TestDetectSuspiciousActivity(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sc   *auth.SecurityContext
		want string
	}{
		{name: "nil context", sc: nil, want: ""},
		{
			name: "clean request",
			sc:   &auth.SecurityContext{IPAddress: "10.0.0.1", UserAgent: "Mozilla/5.0", Timestamp: time.Now()},
			want: "",
		},
		{
			name: "scanner user agent",
			sc:   &auth.SecurityContext{IPAddress: "10.0.0.1", UserAgent: "sqlmap/1.7"},
			want: "suspicious user agent",
		},
		{
			name: "scanner user agent mixed case",
			sc:   &auth.SecurityContext{UserAgent: "Mozilla NIKTO probe"},
			want: "suspicious user agent",
		},
		{
			name: "malformed address",
			sc:   &auth.SecurityContext{IPAddress: "not-an-ip"},
			want: "malformed client address",
		},
		{
			name: "stale timestamp",
			sc:   &auth.SecurityContext{IPAddress: "10.0.0.1", Timestamp: time.Now().Add(-time.Hour)},
			want: "request timestamp out of range",
		},
		{
			name: "future timestamp",
			sc:   &auth.SecurityContext{IPAddress: "10.0.0.1", Timestamp: time.Now().Add(time.Hour)},
			want: "request timestamp out of range",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reason, err := s.DetectSuspiciousActivity(ctx, tt.sc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestValidateSecurityHeaders(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	ctx := context.Background()

	assert.Error(t, s.ValidateSecurityHeaders(ctx, nil))
	assert.Error(t, s.ValidateSecurityHeaders(ctx, &auth.SecurityContext{}))
	assert.Error(t, s.ValidateSecurityHeaders(ctx, &auth.SecurityContext{
		RequestID: "req-1",
		IPAddress: "not-an-ip",
	}))
	assert.NoError(t, s.ValidateSecurityHeaders(ctx, &auth.SecurityContext{
		RequestID: "req-1",
		IPAddress: "10.0.0.1",
	}))
}

func TestCheckRateLimit(t *testing.T) {
	t.Parallel()

	s := newTestService(t, WithRateLimit(1, 2))
	ctx := context.Background()

	require.NoError(t, s.CheckRateLimit(ctx, "client-a"))
	require.NoError(t, s.CheckRateLimit(ctx, "client-a"))
	assert.ErrorIs(t, s.CheckRateLimit(ctx, "client-a"), auth.ErrRateLimited)

	// Limits are per client.
	assert.NoError(t, s.CheckRateLimit(ctx, "client-b"))
}

func TestCheckRateLimitAnonymousKey(t *testing.T) {
	t.Parallel()

	s := newTestService(t, WithRateLimit(1, 1))
	ctx := context.Background()

	require.NoError(t, s.CheckRateLimit(ctx, ""))
	assert.ErrorIs(t, s.CheckRateLimit(ctx, ""), auth.ErrRateLimited)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	plaintext := []byte("refresh-token-material")

	ciphertext, err := s.EncryptSensitiveData(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := s.DecryptSensitiveData(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// A fresh nonce makes every ciphertext distinct.
	again, err := s.EncryptSensitiveData(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, again)
}

func TestDecryptRejectsTamperedData(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	ciphertext, err := s.EncryptSensitiveData([]byte("secret"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = s.DecryptSensitiveData(ciphertext)
	assert.Error(t, err)

	_, err = s.DecryptSensitiveData([]byte("short"))
	assert.Error(t, err)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	s := newTestService(t)

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "10.0.0.1:52000",
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded for wins",
			remoteAddr: "10.0.0.1:52000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "10.0.0.1:52000",
			headers:    map[string]string{"X-Real-Ip": "203.0.113.8"},
			want:       "203.0.113.8",
		},
		{
			name:       "garbage forwarded for ignored",
			remoteAddr: "10.0.0.1:52000",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			want:       "10.0.0.1",
		},
		{
			name:       "header names case insensitive",
			remoteAddr: "10.0.0.1:52000",
			headers:    map[string]string{"x-forwarded-for": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "unparseable remote addr passed through",
			remoteAddr: "unix-socket",
			want:       "unix-socket",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, s.ClientIP(tt.remoteAddr, tt.headers))
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s, err := NewDefaultService(testKey)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
