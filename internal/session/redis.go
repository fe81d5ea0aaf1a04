package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

const (
	defaultKeyPrefix = "avauth:"

	sessionKeyPart = "session:"
	refreshKeyPart = "refresh:"
	userKeyPart    = "user:"

	pingTimeout = 5 * time.Second
)

// RedisConfig configures the Redis-backed repository.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string `yaml:"url" json:"url"`

	// KeyPrefix namespaces every key. Defaults to "avauth:".
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`

	// PoolSize overrides the client connection pool size.
	PoolSize int `yaml:"poolSize" json:"poolSize"`

	// TLSInsecureSkipVerify disables certificate verification for
	// rediss:// URLs.
	TLSInsecureSkipVerify bool `yaml:"tlsInsecureSkipVerify" json:"tlsInsecureSkipVerify"`
}

// RedisRepository is a Repository backed by Redis. Sessions and
// refresh records are stored as JSON values with TTLs derived from
// their expiry, so Redis handles expiration pruning. A per-user set
// indexes session IDs for global sign-out.
type RedisRepository struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string
}

// RedisOption is a functional option for the Redis repository.
type RedisOption func(*RedisRepository)

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(r *RedisRepository) {
		r.logger = logger
	}
}

// NewRedisRepository connects to Redis and verifies the connection
// with a ping before returning.
func NewRedisRepository(cfg *RedisConfig, opts ...RedisOption) (*RedisRepository, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		redisOpts.PoolSize = cfg.PoolSize
	}
	if cfg.TLSInsecureSkipVerify && redisOpts.TLSConfig != nil {
		redisOpts.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // User-configurable
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	r := &RedisRepository{
		logger:    observability.NopLogger(),
		client:    client,
		keyPrefix: keyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger.Info("redis session repository initialized",
		observability.String("keyPrefix", keyPrefix),
	)
	return r, nil
}

var _ Repository = (*RedisRepository)(nil)

func (r *RedisRepository) sessionKey(id string) string {
	return r.keyPrefix + sessionKeyPart + id
}

func (r *RedisRepository) refreshKey(token string) string {
	return r.keyPrefix + refreshKeyPart + token
}

func (r *RedisRepository) userKey(userID string) string {
	return r.keyPrefix + userKeyPart + userID
}

func ttlUntil(expiresAt time.Time) (time.Duration, bool) {
	if expiresAt.IsZero() {
		return 0, false
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}

// StoreSession implements Repository.
func (r *RedisRepository) StoreSession(ctx context.Context, session *auth.Session) error {
	if session == nil || session.ID == "" {
		return auth.ErrSessionNotFound
	}
	ttl, ok := ttlUntil(session.ExpiresAt)
	if !ok {
		return auth.ErrSessionExpired
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(session.ID), payload, ttl)
	pipe.SAdd(ctx, r.userKey(session.UserID), session.ID)
	pipe.Expire(ctx, r.userKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession implements Repository.
func (r *RedisRepository) GetSession(ctx context.Context, id string) (*auth.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session auth.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.Expired() {
		_ = r.RemoveSession(ctx, id)
		return nil, auth.ErrSessionNotFound
	}
	return &session, nil
}

// RemoveSession implements Repository.
func (r *RedisRepository) RemoveSession(ctx context.Context, id string) error {
	session, err := r.loadRaw(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	pipe.SRem(ctx, r.userKey(session.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// loadRaw loads a session without the expiry check.
func (r *RedisRepository) loadRaw(ctx context.Context, id string) (*auth.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session auth.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// SessionsForUser implements Repository.
func (r *RedisRepository) SessionsForUser(ctx context.Context, userID string) ([]*auth.Session, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}

	var out []*auth.Session
	for _, id := range ids {
		session, err := r.GetSession(ctx, id)
		if errors.Is(err, auth.ErrSessionNotFound) {
			// Entry expired out from under the index.
			_ = r.client.SRem(ctx, r.userKey(userID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

// StoreRefreshToken implements Repository.
func (r *RedisRepository) StoreRefreshToken(ctx context.Context, rec *RefreshRecord) error {
	if rec == nil || rec.Token == "" {
		return auth.ErrSessionNotFound
	}
	ttl, ok := ttlUntil(rec.ExpiresAt)
	if !ok {
		return auth.ErrSessionExpired
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode refresh record: %w", err)
	}
	if err := r.client.Set(ctx, r.refreshKey(rec.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh record: %w", err)
	}
	return nil
}

// GetRefreshToken implements Repository.
func (r *RedisRepository) GetRefreshToken(ctx context.Context, token string) (*RefreshRecord, error) {
	raw, err := r.client.Get(ctx, r.refreshKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh record: %w", err)
	}

	var rec RefreshRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode refresh record: %w", err)
	}
	return &rec, nil
}

// RemoveRefreshToken implements Repository.
func (r *RedisRepository) RemoveRefreshToken(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.refreshKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to remove refresh record: %w", err)
	}
	return nil
}

// RemoveAllForUser implements Repository.
func (r *RedisRepository) RemoveAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	removed := 0
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.sessionKey(id))
		removed++
	}
	pipe.Del(ctx, r.userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to remove user sessions: %w", err)
	}

	// Refresh records are not indexed per user; sweep them.
	if err := r.sweepRefreshForUser(ctx, userID); err != nil {
		return removed, err
	}
	return removed, nil
}

func (r *RedisRepository) sweepRefreshForUser(ctx context.Context, userID string) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+refreshKeyPart+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load refresh record: %w", err)
		}
		var rec RefreshRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.UserID == userID {
			_ = r.client.Del(ctx, key).Err()
		}
	}
	return iter.Err()
}

// Clear implements Repository.
func (r *RedisRepository) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to clear repository: %w", err)
		}
	}
	return iter.Err()
}

// Close implements Repository.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
