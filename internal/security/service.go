package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Rate limiter defaults.
const (
	// DefaultRequestsPerSecond is the per-client authentication budget.
	DefaultRequestsPerSecond = 10

	// DefaultBurst is the per-client burst allowance.
	DefaultBurst = 20

	// DefaultClientTTL is how long an idle client's limiter survives.
	DefaultClientTTL = 10 * time.Minute

	// cleanupInterval is how often stale limiters are dropped.
	cleanupInterval = time.Minute
)

// DefaultMaxTimestampSkew is how far a request timestamp may drift
// before the request is considered replayed or forged.
const DefaultMaxTimestampSkew = 5 * time.Minute

// defaultSuspiciousAgents are user-agent markers of known scanning
// tools.
var defaultSuspiciousAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "dirbuster", "gobuster",
}

// clientEntry holds a limiter and its last access time for TTL cleanup.
type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// DefaultService implements Service with local heuristics, an x/time
// per-client rate limiter, and AES-GCM encryption.
type DefaultService struct {
	logger    observability.Logger
	rps       rate.Limit
	burst     int
	clientTTL time.Duration
	maxSkew   time.Duration
	agents    []string
	aead      cipher.AEAD

	mu      sync.Mutex
	clients map[string]*clientEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ServiceOption is a functional option for the default service.
type ServiceOption func(*DefaultService)

// WithServiceLogger sets the logger.
func WithServiceLogger(logger observability.Logger) ServiceOption {
	return func(s *DefaultService) {
		s.logger = logger
	}
}

// WithRateLimit sets the per-client budget.
func WithRateLimit(rps float64, burst int) ServiceOption {
	return func(s *DefaultService) {
		if rps > 0 {
			s.rps = rate.Limit(rps)
		}
		if burst > 0 {
			s.burst = burst
		}
	}
}

// WithClientTTL sets how long idle client limiters survive.
func WithClientTTL(ttl time.Duration) ServiceOption {
	return func(s *DefaultService) {
		if ttl > 0 {
			s.clientTTL = ttl
		}
	}
}

// WithMaxTimestampSkew sets the accepted request timestamp drift.
func WithMaxTimestampSkew(d time.Duration) ServiceOption {
	return func(s *DefaultService) {
		if d > 0 {
			s.maxSkew = d
		}
	}
}

// WithSuspiciousAgents replaces the user-agent markers flagged as
// scanners. Markers are matched case-insensitively as substrings.
func WithSuspiciousAgents(agents []string) ServiceOption {
	return func(s *DefaultService) {
		if len(agents) > 0 {
			lowered := make([]string, len(agents))
			for i, a := range agents {
				lowered[i] = strings.ToLower(a)
			}
			s.agents = lowered
		}
	}
}

// NewDefaultService creates the default security service. The key must
// be 16, 24, or 32 bytes (AES-128/192/256).
func NewDefaultService(encryptionKey []byte, opts ...ServiceOption) (*DefaultService, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security: invalid encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}

	s := &DefaultService{
		logger:    observability.NopLogger(),
		rps:       DefaultRequestsPerSecond,
		burst:     DefaultBurst,
		clientTTL: DefaultClientTTL,
		maxSkew:   DefaultMaxTimestampSkew,
		agents:    defaultSuspiciousAgents,
		aead:      aead,
		clients:   make(map[string]*clientEntry),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()
	return s, nil
}

// Close stops the limiter cleanup goroutine.
func (s *DefaultService) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// DetectSuspiciousActivity implements Service.
func (s *DefaultService) DetectSuspiciousActivity(ctx context.Context, sc *auth.SecurityContext) (string, error) {
	if sc == nil {
		return "", nil
	}
	ua := strings.ToLower(sc.UserAgent)
	for _, marker := range s.agents {
		if strings.Contains(ua, marker) {
			s.logger.Warn("suspicious user agent",
				observability.String("user_agent", sc.UserAgent),
				observability.String("ip", sc.IPAddress),
			)
			return "suspicious user agent", nil
		}
	}
	if sc.IPAddress != "" && net.ParseIP(sc.IPAddress) == nil {
		return "malformed client address", nil
	}
	if !sc.Timestamp.IsZero() {
		if skew := time.Since(sc.Timestamp); skew > s.maxSkew || skew < -s.maxSkew {
			return "request timestamp out of range", nil
		}
	}
	return "", nil
}

// ValidateSecurityHeaders implements Service.
func (s *DefaultService) ValidateSecurityHeaders(ctx context.Context, sc *auth.SecurityContext) error {
	if sc == nil {
		return errors.New("missing security context")
	}
	if sc.RequestID == "" {
		return errors.New("missing request id")
	}
	if sc.IPAddress != "" && net.ParseIP(sc.IPAddress) == nil {
		return fmt.Errorf("malformed client address %q", sc.IPAddress)
	}
	return nil
}

// CheckRateLimit implements Service.
func (s *DefaultService) CheckRateLimit(ctx context.Context, key string) error {
	if key == "" {
		key = "anonymous"
	}

	s.mu.Lock()
	entry, ok := s.clients[key]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.clients[key] = entry
	}
	entry.lastAccess = time.Now()
	s.mu.Unlock()

	if !entry.limiter.Allow() {
		s.logger.Warn("rate limit exceeded",
			observability.String("client", key),
		)
		return auth.ErrRateLimited
	}
	return nil
}

// EncryptSensitiveData implements Service. The nonce is prepended to
// the ciphertext.
func (s *DefaultService) EncryptSensitiveData(data []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, data, nil), nil
}

// DecryptSensitiveData implements Service.
func (s *DefaultService) DecryptSensitiveData(data []byte) ([]byte, error) {
	if len(data) < s.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}

// ClientIP implements Service.
func (s *DefaultService) ClientIP(remoteAddr string, headers map[string]string) string {
	if fwd := headerValue(headers, "X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := headerValue(headers, "X-Real-Ip"); real != "" {
		if net.ParseIP(real) != nil {
			return real
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// cleanupLoop drops limiters for clients idle past the TTL.
func (s *DefaultService) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.clientTTL)
			s.mu.Lock()
			for key, entry := range s.clients {
				if entry.lastAccess.Before(cutoff) {
					delete(s.clients, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
