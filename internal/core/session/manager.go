package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-phone-agent/internal/domain"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"go.uber.org/zap"
)

type callLock struct {
	mu   sync.Mutex
	refs int
}

// Manager owns call sessions and serializes all work on one call
type Manager struct {
	store Store

	mutex sync.Mutex
	locks map[string]*callLock
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		locks: make(map[string]*callLock),
	}
}

// WithSession runs fn with exclusive ownership of the session for callSID.
// The session is created on first use, touched, and saved after fn returns without error.
func (m *Manager) WithSession(ctx context.Context, callSID string, fn func(s *domain.CallSession) error) error {
	if callSID == "" {
		callSID = domain.LocalCallSID
	}

	unlock := m.lock(callSID)
	defer unlock()

	s, err := m.store.Load(ctx, callSID)
	if errors.Is(err, ErrSessionNotFound) {
		s = domain.NewCallSession(callSID)
		logger.Info(ctx, "call session created", zap.String("call_sid", callSID))
	} else if err != nil {
		return err
	}

	if err := fn(s); err != nil {
		return err
	}

	s.Touch()
	return m.store.Save(ctx, s)
}

// Get returns a snapshot of the session for callSID
func (m *Manager) Get(ctx context.Context, callSID string) (*domain.CallSession, error) {
	return m.store.Load(ctx, callSID)
}

// End removes the session for callSID. Unknown calls are not an error.
func (m *Manager) End(ctx context.Context, callSID string) error {
	unlock := m.lock(callSID)
	defer unlock()

	if err := m.store.Delete(ctx, callSID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", callSID, err)
	}
	logger.Info(ctx, "call session removed", zap.String("call_sid", callSID))
	return nil
}

// Count returns the number of live sessions
func (m *Manager) Count(ctx context.Context) (int, error) {
	sessions, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// CleanupExpiredSessions removes sessions that saw no webhook for longer than idleTimeout
func (m *Manager) CleanupExpiredSessions(ctx context.Context, idleTimeout time.Duration) int {
	sessions, err := m.store.List(ctx)
	if err != nil {
		logger.Error(ctx, "failed to list sessions for cleanup", zap.Error(err))
		return 0
	}

	cleaned := 0
	for _, s := range sessions {
		if s.IdleFor(time.Now()) <= idleTimeout {
			continue
		}
		expired, err := m.expireIfIdle(ctx, s.CallSID, idleTimeout)
		if err != nil {
			logger.Warn(ctx, "failed to clean up idle session", zap.String("call_sid", s.CallSID), zap.Error(err))
			continue
		}
		if expired {
			cleaned++
		}
	}
	return cleaned
}

// expireIfIdle re-reads the session under its lock, since a webhook may have
// touched it after the listing.
func (m *Manager) expireIfIdle(ctx context.Context, callSID string, idleTimeout time.Duration) (bool, error) {
	unlock := m.lock(callSID)
	defer unlock()

	s, err := m.store.Load(ctx, callSID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if s.IdleFor(time.Now()) <= idleTimeout {
		return false, nil
	}

	if err := m.store.Delete(ctx, callSID); err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", callSID, err)
	}
	logger.Info(ctx, "idle call session removed", zap.String("call_sid", callSID), zap.Duration("idle", s.IdleFor(time.Now())))
	return true, nil
}

// StartCleanupRoutine periodically drops idle sessions until ctx is cancelled
func (m *Manager) StartCleanupRoutine(ctx context.Context, checkInterval, idleTimeout time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	logger.Base().Info("Started session cleanup routine", zap.Duration("check_interval", checkInterval), zap.Duration("idle_timeout", idleTimeout))
	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("Session cleanup routine stopped")
			return
		case <-ticker.C:
			if cleaned := m.CleanupExpiredSessions(ctx, idleTimeout); cleaned > 0 {
				logger.Base().Info("Periodic check: cleaned idle sessions", zap.Int("cleaned_count", cleaned))
			}
		}
	}
}

func (m *Manager) lock(callSID string) func() {
	m.mutex.Lock()
	l, ok := m.locks[callSID]
	if !ok {
		l = &callLock{}
		m.locks[callSID] = l
	}
	l.refs++
	m.mutex.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		m.mutex.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, callSID)
		}
		m.mutex.Unlock()
	}
}
