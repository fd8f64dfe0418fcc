package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"go.uber.org/zap"
)

// ErrCallNotTracked is returned when the lifecycle has no state for a call
var ErrCallNotTracked = errors.New("call not tracked")

// DefaultEndedRetention is how long an ended call stays visible before it is dropped
const DefaultEndedRetention = 5 * time.Second

// LifecyclePhase represents where a call is in its conversation
type LifecyclePhase int

const (
	PhaseOriginated LifecyclePhase = iota
	PhaseGreeted
	PhaseConversing
	PhaseEnding
	PhaseEnded
)

// String returns the string representation of the lifecycle phase
func (p LifecyclePhase) String() string {
	switch p {
	case PhaseOriginated:
		return "originated"
	case PhaseGreeted:
		return "greeted"
	case PhaseConversing:
		return "conversing"
	case PhaseEnding:
		return "ending"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name
func (p LifecyclePhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// CallState is the lifecycle view of one call
type CallState struct {
	CallSID   string         `json:"call_sid"`
	Phase     LifecyclePhase `json:"phase"`
	Turns     int            `json:"turns"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CallLifecycle follows every call through its phases by listening to the event bus.
// Phases only move forward; events delivered out of order never move a call back.
type CallLifecycle struct {
	eventBus  EventBus
	retention time.Duration
	calls     map[string]*CallState
	timers    map[string]*time.Timer
	mutex     sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewCallLifecycle creates a lifecycle tracker subscribed to the call events on eventBus.
// Ended calls are dropped after retention.
func NewCallLifecycle(eventBus EventBus, retention time.Duration) (*CallLifecycle, error) {
	ctx, cancel := context.WithCancel(context.Background())

	lifecycle := &CallLifecycle{
		eventBus:  eventBus,
		retention: retention,
		calls:     make(map[string]*CallState),
		timers:    make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := lifecycle.setupEventSubscriptions(); err != nil {
		cancel()
		return nil, err
	}
	return lifecycle, nil
}

// GetCallState returns a copy of the state of one call
func (cl *CallLifecycle) GetCallState(callSID string) (*CallState, error) {
	cl.mutex.RLock()
	defer cl.mutex.RUnlock()

	state, exists := cl.calls[callSID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCallNotTracked, callSID)
	}

	stateCopy := *state
	return &stateCopy, nil
}

// GetAllCalls returns copies of every tracked call
func (cl *CallLifecycle) GetAllCalls() map[string]*CallState {
	cl.mutex.RLock()
	defer cl.mutex.RUnlock()

	result := make(map[string]*CallState, len(cl.calls))
	for sid, state := range cl.calls {
		stateCopy := *state
		result[sid] = &stateCopy
	}
	return result
}

// PhaseCounts returns how many tracked calls sit in each phase
func (cl *CallLifecycle) PhaseCounts() map[string]int {
	cl.mutex.RLock()
	defer cl.mutex.RUnlock()

	counts := make(map[string]int)
	for _, state := range cl.calls {
		counts[state.Phase.String()]++
	}
	return counts
}

// Close stops pending cleanups and forgets every call
func (cl *CallLifecycle) Close() error {
	cl.cancel()

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	for _, timer := range cl.timers {
		timer.Stop()
	}
	cl.timers = make(map[string]*time.Timer)
	cl.calls = make(map[string]*CallState)

	logger.Base().Info("Call lifecycle closed")
	return nil
}

// advance moves a call to phase, creating its state on first sight.
// It reports whether the phase changed.
func (cl *CallLifecycle) advance(callSID string, phase LifecyclePhase, at time.Time) bool {
	select {
	case <-cl.ctx.Done():
		return false
	default:
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	state, exists := cl.calls[callSID]
	if !exists {
		state = &CallState{CallSID: callSID, Phase: phase, CreatedAt: at, UpdatedAt: at}
		cl.calls[callSID] = state
	} else if phase <= state.Phase {
		return false
	}

	oldPhase := state.Phase
	state.Phase = phase
	state.UpdatedAt = at

	logger.Base().Info("Call phase changed",
		zap.String("call_sid", callSID),
		zap.Stringer("old_phase", oldPhase),
		zap.Stringer("new_phase", phase),
	)

	if phase == PhaseEnded {
		cl.scheduleCleanup(callSID)
	}
	return true
}

func (cl *CallLifecycle) countTurn(callSID string, at time.Time) {
	cl.advance(callSID, PhaseConversing, at)

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	if state, exists := cl.calls[callSID]; exists {
		state.Turns++
	}
}

// scheduleCleanup must be called with the mutex held
func (cl *CallLifecycle) scheduleCleanup(callSID string) {
	if timer, exists := cl.timers[callSID]; exists {
		timer.Stop()
	}
	cl.timers[callSID] = time.AfterFunc(cl.retention, func() {
		cl.cleanupCall(callSID)
	})
}

// cleanupCall removes a call from the lifecycle
func (cl *CallLifecycle) cleanupCall(callSID string) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	delete(cl.calls, callSID)
	delete(cl.timers, callSID)
	logger.Base().Debug("Cleaned up call from lifecycle", zap.String("call_sid", callSID))
}

// setupEventSubscriptions maps call events onto phases
func (cl *CallLifecycle) setupEventSubscriptions() error {
	phases := map[EventType]LifecyclePhase{
		CallOriginated:   PhaseOriginated,
		CallGreeted:      PhaseGreeted,
		CompletionFailed: PhaseConversing,
		GoodbyeHeard:     PhaseEnding,
		CallCompleted:    PhaseEnded,
	}
	for eventType, phase := range phases {
		phase := phase
		if err := cl.eventBus.Subscribe(eventType, func(event *CallEvent) {
			cl.advance(event.CallSID, phase, event.Timestamp)
		}); err != nil {
			return fmt.Errorf("failed to subscribe lifecycle to %s: %w", eventType, err)
		}
	}

	if err := cl.eventBus.Subscribe(TurnCompleted, func(event *CallEvent) {
		cl.countTurn(event.CallSID, event.Timestamp)
	}); err != nil {
		return fmt.Errorf("failed to subscribe lifecycle to %s: %w", TurnCompleted, err)
	}

	logger.Base().Info("Event subscriptions set up for call lifecycle")
	return nil
}
