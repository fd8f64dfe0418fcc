package call

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ClareAI/astra-phone-agent/internal/config"
	"github.com/ClareAI/astra-phone-agent/internal/core/event"
	"github.com/ClareAI/astra-phone-agent/internal/core/model/openai"
	"github.com/ClareAI/astra-phone-agent/internal/core/session"
	"github.com/ClareAI/astra-phone-agent/internal/core/voice"
	"github.com/ClareAI/astra-phone-agent/internal/domain"
	"github.com/ClareAI/astra-phone-agent/internal/prompts"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"go.uber.org/zap"
)

// Completer produces the assistant reply for one caller utterance
type Completer interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (string, error)
}

// terminalStatuses are provider call statuses after which no webhook will arrive
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// IsTerminalStatus reports whether status ends the call on the provider side
func IsTerminalStatus(status string) bool {
	return terminalStatuses[strings.ToLower(status)]
}

// ServiceConfig tunes the conversation loop
type ServiceConfig struct {
	HandleCallURL        string
	ProcessSpeechURL     string
	SpeechInput          string
	GatherTimeoutSeconds int
	SystemInstruction    string
	MaxTokens            int
	Temperature          float32
	// TurnTimeout bounds one completion including retries so the webhook answers in time
	TurnTimeout time.Duration
}

// DefaultServiceConfig returns the settings used in production
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		HandleCallURL:        config.HandleCallPath,
		ProcessSpeechURL:     config.ProcessSpeechPath,
		SpeechInput:          config.DefaultSpeechInput,
		GatherTimeoutSeconds: config.DefaultGatherTimeoutSeconds,
		SystemInstruction:    prompts.SystemInstruction,
		MaxTokens:            config.DefaultMaxTokens,
		Temperature:          config.DefaultTemperature,
		TurnTimeout:          12 * time.Second,
	}
}

// ConversationService runs the greet, listen, answer loop of a phone call
type ConversationService struct {
	cfg       ServiceConfig
	completer Completer
	sessions  *session.Manager
	eventBus  event.EventBus
}

// NewConversationService creates a conversation service
func NewConversationService(cfg ServiceConfig, completer Completer, sessions *session.Manager, eventBus event.EventBus) *ConversationService {
	return &ConversationService{
		cfg:       cfg,
		completer: completer,
		sessions:  sessions,
		eventBus:  eventBus,
	}
}

// HandleCall answers the call webhook: greet once, then listen for speech.
// Verbs after the Gather only run when the caller says nothing.
func (s *ConversationService) HandleCall(ctx context.Context, callSID string) (*voice.Document, error) {
	doc := voice.NewDocument()
	greeted := false

	err := s.sessions.WithSession(ctx, callSID, func(sess *domain.CallSession) error {
		if !sess.Active {
			doc.Hangup()
			return nil
		}
		if !sess.Greeted {
			doc.Say(prompts.Greeting)
			sess.MarkGreeted()
			greeted = true
		}
		doc.Gather(voice.GatherOptions{
			Input:          s.cfg.SpeechInput,
			TimeoutSeconds: s.cfg.GatherTimeoutSeconds,
			Action:         s.cfg.ProcessSpeechURL,
			Method:         "POST",
		})
		doc.Say(prompts.NoInputFallback)
		doc.Redirect(s.cfg.HandleCallURL)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if greeted {
		s.publish(ctx, event.NewCallEvent(event.CallGreeted, sessionKey(callSID)))
	}
	return doc, nil
}

// ProcessSpeech answers one recognized utterance
func (s *ConversationService) ProcessSpeech(ctx context.Context, callSID, transcript string) (*voice.Document, error) {
	doc := voice.NewDocument()
	var (
		ended    bool
		turn     *event.TurnEventData
		failure  error
		callKey  = sessionKey(callSID)
		hasInput = strings.TrimSpace(transcript) != ""
	)

	err := s.sessions.WithSession(ctx, callSID, func(sess *domain.CallSession) error {
		switch {
		case hasInput && prompts.IsGoodbye(transcript):
			doc.Say(prompts.Goodbye).Hangup()
			ended = sess.End()
			return nil
		case !sess.Active:
			doc.Hangup()
			return nil
		case !hasInput:
			logger.Info(ctx, "No speech recognized, prompting again", zap.String("call_sid", callKey))
			doc.Say(prompts.NoInputFallback).Redirect(s.cfg.HandleCallURL)
			return nil
		}

		start := time.Now()
		reply, err := s.complete(ctx, transcript)
		if err != nil {
			var cf *openai.CompletionFailure
			if !errors.As(err, &cf) {
				return err
			}
			logger.Error(ctx, "Completion failed, apologising to caller", zap.String("call_sid", callKey), zap.Error(err))
			failure = err
			doc.Say(prompts.Apology).Redirect(s.cfg.HandleCallURL)
			return nil
		}

		sess.RecordTurn()
		turn = &event.TurnEventData{
			Turn:       sess.Turns,
			Transcript: transcript,
			Reply:      reply,
			Latency:    time.Since(start),
		}
		doc.Say(reply).Redirect(s.cfg.HandleCallURL)
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case ended:
		logger.Info(ctx, "Caller said goodbye", zap.String("call_sid", callKey))
		s.publish(ctx, event.NewCallEvent(event.GoodbyeHeard, callKey))
	case failure != nil:
		s.publish(ctx, event.NewCallEvent(event.CompletionFailed, callKey).WithError(failure))
	case turn != nil:
		s.publish(ctx, event.NewCallEvent(event.TurnCompleted, callKey).WithData(turn))
	}
	return doc, nil
}

// CompleteCall handles a provider status callback. Terminal statuses drop the session.
func (s *ConversationService) CompleteCall(ctx context.Context, callSID, status string) error {
	if !IsTerminalStatus(status) {
		logger.Debug(ctx, "Ignoring non-terminal call status", zap.String("call_sid", callSID), zap.String("status", status))
		return nil
	}

	callKey := sessionKey(callSID)
	if err := s.sessions.End(ctx, callKey); err != nil {
		return err
	}
	s.publish(ctx, event.NewCallEvent(event.CallCompleted, callKey).WithData(&event.StatusEventData{Status: status}))
	return nil
}

// ActiveSessions returns the number of live call sessions
func (s *ConversationService) ActiveSessions(ctx context.Context) (int, error) {
	return s.sessions.Count(ctx)
}

func (s *ConversationService) complete(ctx context.Context, transcript string) (string, error) {
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}
	return s.completer.Complete(ctx, openai.CompletionRequest{
		SystemInstruction: s.cfg.SystemInstruction,
		UserUtterance:     transcript,
		MaxTokens:         s.cfg.MaxTokens,
		Temperature:       s.cfg.Temperature,
	})
}

func (s *ConversationService) publish(ctx context.Context, e *event.CallEvent) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishEvent(e); err != nil {
		logger.Warn(ctx, "Failed to publish call event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

func sessionKey(callSID string) string {
	if callSID == "" {
		return domain.LocalCallSID
	}
	return callSID
}
