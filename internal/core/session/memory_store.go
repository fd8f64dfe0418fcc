package session

import (
	"context"
	"sync"

	"github.com/ClareAI/astra-phone-agent/internal/domain"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mutex    sync.RWMutex
	sessions map[string]domain.CallSession
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]domain.CallSession)}
}

// Load returns a copy of the stored session so callers never share state
func (m *MemoryStore) Load(_ context.Context, callSID string) (*domain.CallSession, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s, ok := m.sessions[callSID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *domain.CallSession) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sessions[s.CallSID] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, callSID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.sessions, callSID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*domain.CallSession, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*domain.CallSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		s := s
		out = append(out, &s)
	}
	return out, nil
}
