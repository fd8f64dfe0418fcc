package event

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Call lifecycle events
const (
	CallOriginated   EventType = "call.originated"
	CallGreeted      EventType = "call.greeted"
	TurnCompleted    EventType = "call.turn_completed"
	CompletionFailed EventType = "call.completion_failed"
	GoodbyeHeard     EventType = "call.goodbye"
	CallCompleted    EventType = "call.completed"
)

// CallEvent represents something that happened on one call
type CallEvent struct {
	Type      EventType   `json:"type"`
	CallSID   string      `json:"call_sid"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     error       `json:"error,omitempty"`
}

// TurnEventData describes one answered utterance
type TurnEventData struct {
	Turn       int           `json:"turn"`
	Transcript string        `json:"transcript"`
	Reply      string        `json:"reply"`
	Latency    time.Duration `json:"latency"`
}

// StatusEventData carries the provider call status from a status callback
type StatusEventData struct {
	Status string `json:"status"`
}

// NewCallEvent creates a new call event
func NewCallEvent(eventType EventType, callSID string) *CallEvent {
	return &CallEvent{
		Type:      eventType,
		CallSID:   callSID,
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event
func (e *CallEvent) WithData(data interface{}) *CallEvent {
	e.Data = data
	return e
}

// WithError adds error to the event
func (e *CallEvent) WithError(err error) *CallEvent {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *CallEvent) IsError() bool {
	return e.Error != nil
}

// GetTurnData returns turn data if available
func (e *CallEvent) GetTurnData() (*TurnEventData, bool) {
	if data, ok := e.Data.(*TurnEventData); ok {
		return data, true
	}
	return nil, false
}
