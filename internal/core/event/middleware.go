package event

import (
	"fmt"
	"time"

	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware provides logging for all events
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		start := time.Now()

		defer func() {
			duration := time.Since(start)
			if event.IsError() {
				logger.Base().Warn("Call event", zap.String("type", string(event.Type)), zap.String("call_sid", event.CallSID), zap.Error(event.Error), zap.Duration("duration", duration))
			} else {
				logger.Base().Info("Call event", zap.String("type", string(event.Type)), zap.String("call_sid", event.CallSID), zap.Duration("duration", duration))
			}
		}()

		next(event)
	}
}

// RecoveryMiddleware provides panic recovery for event handlers
func RecoveryMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		defer func() {
			if r := recover(); r != nil {
				logger.Base().Error("Panic in event handler",
					zap.String("type", string(event.Type)),
					zap.String("call_sid", event.CallSID),
					zap.Error(fmt.Errorf("handler panic: %v", r)),
				)
			}
		}()

		next(event)
	}
}

// ValidationMiddleware drops events that cannot be attributed to a call
func ValidationMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}

		if event.Type == "" {
			logger.Base().Error("Event type is empty", zap.String("call_sid", event.CallSID))
			return
		}

		if event.CallSID == "" {
			logger.Base().Error("Call SID is empty", zap.String("type", string(event.Type)))
			return
		}

		next(event)
	}
}

// CreateDefaultMiddlewareChain creates a default middleware chain with common middleware
func CreateDefaultMiddlewareChain() []EventMiddleware {
	return []EventMiddleware{
		RecoveryMiddleware,
		ValidationMiddleware,
		LoggingMiddleware,
	}
}
