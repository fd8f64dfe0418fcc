package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClareAI/astra-phone-agent/internal/domain"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"github.com/ClareAI/astra-phone-agent/pkg/redis"
	"go.uber.org/zap"
)

const SessionTTL = 1 * time.Hour

// RedisStore shares live call sessions between replicas behind one webhook URL
type RedisStore struct {
	redisSvc redis.RedisServiceInterface
	ttl      time.Duration
}

func NewRedisStore(redisSvc redis.RedisServiceInterface) *RedisStore {
	return &RedisStore{
		redisSvc: redisSvc,
		ttl:      SessionTTL,
	}
}

func (r *RedisStore) key(callSID string) string {
	return r.redisSvc.GenerateKey(redis.CALL_SESSION, callSID)
}

func (r *RedisStore) Load(ctx context.Context, callSID string) (*domain.CallSession, error) {
	val, err := r.redisSvc.GetValue(ctx, r.key(callSID))
	if err != nil {
		if redis.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", callSID, err)
	}

	var s domain.CallSession
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", callSID, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *domain.CallSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.CallSID, err)
	}
	if err := r.redisSvc.SetValue(ctx, r.key(s.CallSID), string(data), r.ttl); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.CallSID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, callSID string) error {
	return r.redisSvc.DelValue(ctx, r.key(callSID))
}

func (r *RedisStore) List(ctx context.Context) ([]*domain.CallSession, error) {
	keys, err := r.redisSvc.ScanKeys(ctx, string(redis.CALL_SESSION)+":*")
	if err != nil {
		return nil, err
	}

	prefix := string(redis.CALL_SESSION) + ":"
	out := make([]*domain.CallSession, 0, len(keys))
	for _, key := range keys {
		s, err := r.Load(ctx, strings.TrimPrefix(key, prefix))
		if err != nil {
			// expired between SCAN and GET
			logger.Base().Debug("skipping session during list", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
