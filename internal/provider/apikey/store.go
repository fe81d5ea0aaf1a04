// Package apikey implements a provider that authenticates long-lived
// API keys against a pluggable key store.
package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// Store errors.
var (
	// ErrKeyNotFound indicates the key hash is not in the store.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyExists indicates a key with the same hash already exists.
	ErrKeyExists = errors.New("api key already exists")
)

// Key is one stored API key. Only the SHA-256 hash of the raw key is
// kept.
type Key struct {
	Hash      string            `json:"hash"`
	UserID    string            `json:"user_id"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
	Revoked   bool              `json:"revoked,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the key's expiry has passed. Keys without an
// expiry never expire.
func (k *Key) Expired() bool {
	return !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt)
}

// Store is the key lookup contract.
type Store interface {
	Get(ctx context.Context, hash string) (*Key, error)
	Put(ctx context.Context, key *Key) error
	Revoke(ctx context.Context, hash string) error
	Delete(ctx context.Context, hash string) error
}

// HashKey returns the hex SHA-256 digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*Key)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, hash string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *key
	return &copied, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.Hash]; exists {
		return ErrKeyExists
	}
	copied := *key
	s.keys[key.Hash] = &copied
	return nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[hash]
	if !ok {
		return ErrKeyNotFound
	}
	key.Revoked = true
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[hash]; !ok {
		return ErrKeyNotFound
	}
	delete(s.keys, hash)
	return nil
}
