package auth

import (
	"context"
	"sync"

	"github.com/Iron-Ham/uplink/internal/errors"
)

// SessionStore persists sessions across processes. Implementations must be
// safe for concurrent use. Load returns errors.ErrSessionNotFound when no
// session is stored for the provider.
type SessionStore interface {
	Load(ctx context.Context, providerID string) (Session, error)
	Save(ctx context.Context, session Session) error
	Delete(ctx context.Context, providerID string) error
}

// MemoryStore is a process-local SessionStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Load(_ context.Context, providerID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[providerID]
	if !ok {
		return Session{}, errors.ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) Save(_ context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ProviderID] = session
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, providerID)
	return nil
}
