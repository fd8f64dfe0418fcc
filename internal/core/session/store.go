package session

import (
	"context"
	"errors"

	"github.com/ClareAI/astra-phone-agent/internal/domain"
)

// ErrSessionNotFound is returned by Store.Load when no session exists for the call
var ErrSessionNotFound = errors.New("call session not found")

// Store persists call sessions keyed by call SID
type Store interface {
	Load(ctx context.Context, callSID string) (*domain.CallSession, error)
	Save(ctx context.Context, s *domain.CallSession) error
	Delete(ctx context.Context, callSID string) error
	List(ctx context.Context) ([]*domain.CallSession, error)
}
