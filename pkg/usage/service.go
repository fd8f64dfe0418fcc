package usage

import (
	"sync"
	"time"

	"github.com/ClareAI/astra-phone-agent/internal/core/event"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"go.uber.org/zap"
)

// CallUsage is what one call has consumed so far
type CallUsage struct {
	CallSID            string        `json:"call_sid"`
	Turns              int           `json:"turns"`
	CompletionFailures int           `json:"completion_failures"`
	CompletionLatency  time.Duration `json:"completion_latency"`
	FirstSeen          time.Time     `json:"first_seen"`
	Ended              bool          `json:"ended"`
}

// Summary aggregates usage across all calls handled by this process
type Summary struct {
	Calls              int   `json:"calls"`
	EndedCalls         int   `json:"ended_calls"`
	Turns              int   `json:"turns"`
	CompletionFailures int   `json:"completion_failures"`
	AvgLatencyMillis   int64 `json:"avg_completion_latency_ms"`
}

// UsageService accounts completion usage per call from call events
type UsageService struct {
	mutex sync.RWMutex
	calls map[string]*CallUsage
}

func NewUsageService() *UsageService {
	return &UsageService{calls: make(map[string]*CallUsage)}
}

// Subscribe registers the service on the events it accounts for
func (s *UsageService) Subscribe(bus event.EventBus) error {
	for _, t := range []event.EventType{event.TurnCompleted, event.CompletionFailed, event.GoodbyeHeard, event.CallCompleted} {
		if err := bus.Subscribe(t, s.HandleEvent); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent records one call event
func (s *UsageService) HandleEvent(e *event.CallEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	u, ok := s.calls[e.CallSID]
	if !ok {
		u = &CallUsage{CallSID: e.CallSID, FirstSeen: e.Timestamp}
		s.calls[e.CallSID] = u
	}

	switch e.Type {
	case event.TurnCompleted:
		u.Turns++
		if turn, ok := e.GetTurnData(); ok {
			u.CompletionLatency += turn.Latency
		}
	case event.CompletionFailed:
		u.CompletionFailures++
	case event.GoodbyeHeard, event.CallCompleted:
		if u.Ended {
			return
		}
		u.Ended = true
		logger.Base().Info("Call usage",
			zap.String("call_sid", u.CallSID),
			zap.Int("turns", u.Turns),
			zap.Int("completion_failures", u.CompletionFailures),
			zap.Duration("completion_latency", u.CompletionLatency),
			zap.Duration("call_duration", e.Timestamp.Sub(u.FirstSeen)),
		)
	}
}

// callUsage returns a copy of the usage for callSID
func (s *UsageService) callUsage(callSID string) (CallUsage, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	u, ok := s.calls[callSID]
	if !ok {
		return CallUsage{}, false
	}
	return *u, true
}

// Summary returns the aggregate usage
func (s *UsageService) Summary() Summary {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var (
		sum     Summary
		latency time.Duration
	)
	for _, u := range s.calls {
		sum.Calls++
		if u.Ended {
			sum.EndedCalls++
		}
		sum.Turns += u.Turns
		sum.CompletionFailures += u.CompletionFailures
		latency += u.CompletionLatency
	}
	if sum.Turns > 0 {
		sum.AvgLatencyMillis = (latency / time.Duration(sum.Turns)).Milliseconds()
	}
	return sum
}
