package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

// MemoryRepository is an in-memory Repository and AccountStore for
// tests and single-node deployments. Expired entries are dropped
// lazily on lookup.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*auth.Session
	refresh  map[string]*RefreshRecord
	accounts map[string]*Account
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*auth.Session),
		refresh:  make(map[string]*RefreshRecord),
		accounts: make(map[string]*Account),
	}
}

var _ Repository = (*MemoryRepository)(nil)
var _ AccountStore = (*MemoryRepository)(nil)

// StoreSession implements Repository.
func (r *MemoryRepository) StoreSession(_ context.Context, session *auth.Session) error {
	if session == nil || session.ID == "" {
		return auth.ErrSessionNotFound
	}
	cp := *session
	r.mu.Lock()
	r.sessions[cp.ID] = &cp
	r.mu.Unlock()
	return nil
}

// GetSession implements Repository.
func (r *MemoryRepository) GetSession(_ context.Context, id string) (*auth.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	if s.Expired() {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return nil, auth.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// RemoveSession implements Repository.
func (r *MemoryRepository) RemoveSession(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// SessionsForUser implements Repository.
func (r *MemoryRepository) SessionsForUser(_ context.Context, userID string) ([]*auth.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*auth.Session
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Expired() {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// StoreRefreshToken implements Repository.
func (r *MemoryRepository) StoreRefreshToken(_ context.Context, rec *RefreshRecord) error {
	if rec == nil || rec.Token == "" {
		return auth.ErrSessionNotFound
	}
	cp := *rec
	r.mu.Lock()
	r.refresh[cp.Token] = &cp
	r.mu.Unlock()
	return nil
}

// GetRefreshToken implements Repository.
func (r *MemoryRepository) GetRefreshToken(_ context.Context, token string) (*RefreshRecord, error) {
	r.mu.RLock()
	rec, ok := r.refresh[token]
	r.mu.RUnlock()
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		r.mu.Lock()
		delete(r.refresh, token)
		r.mu.Unlock()
		return nil, auth.ErrSessionNotFound
	}
	cp := *rec
	return &cp, nil
}

// RemoveRefreshToken implements Repository.
func (r *MemoryRepository) RemoveRefreshToken(_ context.Context, token string) error {
	r.mu.Lock()
	delete(r.refresh, token)
	r.mu.Unlock()
	return nil
}

// RemoveAllForUser implements Repository.
func (r *MemoryRepository) RemoveAllForUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			removed++
		}
	}
	for token, rec := range r.refresh {
		if rec.UserID == userID {
			delete(r.refresh, token)
		}
	}
	return removed, nil
}

// Clear implements Repository.
func (r *MemoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	r.sessions = make(map[string]*auth.Session)
	r.refresh = make(map[string]*RefreshRecord)
	r.mu.Unlock()
	return nil
}

// Close implements Repository.
func (r *MemoryRepository) Close() error { return nil }

// CreateAccount implements AccountStore. The stored account is
// unactivated; the returned code activates it.
func (r *MemoryRepository) CreateAccount(_ context.Context, acct *Account) (string, error) {
	if acct == nil || acct.UserID == "" {
		return "", ErrAccountNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[acct.UserID]; exists {
		return "", ErrAccountExists
	}
	cp := *acct
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.Activated = false
	cp.ActivationCode = uuid.NewString()
	r.accounts[cp.UserID] = &cp
	return cp.ActivationCode, nil
}

// ActivateAccount implements AccountStore.
func (r *MemoryRepository) ActivateAccount(_ context.Context, userID, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.Activated {
		return ErrAccountActivated
	}
	if code == "" || subtle.ConstantTimeCompare([]byte(acct.ActivationCode), []byte(code)) != 1 {
		return ErrInvalidActivationCode
	}
	acct.Activated = true
	acct.ActivationCode = ""
	return nil
}

// ResendActivationCode implements AccountStore.
func (r *MemoryRepository) ResendActivationCode(_ context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[userID]
	if !ok {
		return "", ErrAccountNotFound
	}
	if acct.Activated {
		return "", ErrAccountActivated
	}
	acct.ActivationCode = uuid.NewString()
	return acct.ActivationCode, nil
}

// GetAccount implements AccountStore.
func (r *MemoryRepository) GetAccount(_ context.Context, userID string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

// UpdateAccount implements AccountStore.
func (r *MemoryRepository) UpdateAccount(_ context.Context, acct *Account) error {
	if acct == nil || acct.UserID == "" {
		return ErrAccountNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[acct.UserID]; !ok {
		return ErrAccountNotFound
	}
	cp := *acct
	r.accounts[cp.UserID] = &cp
	return nil
}

// DeleteAccount implements AccountStore.
func (r *MemoryRepository) DeleteAccount(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[userID]; !ok {
		return ErrAccountNotFound
	}
	delete(r.accounts, userID)
	return nil
}
