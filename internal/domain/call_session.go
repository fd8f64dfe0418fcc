package domain

import (
	"time"
)

// LocalCallSID keys the session used when a webhook arrives without a CallSid
const LocalCallSID = "local"

// CallSession is the conversation state for one phone call
type CallSession struct {
	CallSID   string    `json:"call_sid"`
	Greeted   bool      `json:"greeted"`
	Active    bool      `json:"active"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCallSession creates an active, not yet greeted session
func NewCallSession(callSID string) *CallSession {
	now := time.Now()
	return &CallSession{
		CallSID:   callSID,
		Active:    true,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// MarkGreeted records that the greeting was spoken. It is one-way.
func (s *CallSession) MarkGreeted() {
	s.Greeted = true
	s.Touch()
}

// End deactivates the session. It reports whether this call changed the state,
// so callers can run their end-of-call work exactly once.
func (s *CallSession) End() bool {
	if !s.Active {
		return false
	}
	s.Active = false
	s.Touch()
	return true
}

// RecordTurn counts one caller utterance answered by the assistant
func (s *CallSession) RecordTurn() {
	s.Turns++
	s.Touch()
}

// IdleFor returns how long ago the session was last touched
func (s *CallSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

// Touch marks the session as seen now
func (s *CallSession) Touch() {
	s.UpdatedAt = time.Now()
}
