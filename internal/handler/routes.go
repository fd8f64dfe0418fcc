package handler

import (
	"net/http"

	"github.com/ClareAI/astra-phone-agent/internal/config"
	"github.com/ClareAI/astra-phone-agent/internal/core/event"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"github.com/ClareAI/astra-phone-agent/pkg/twilio"
	"github.com/ClareAI/astra-phone-agent/pkg/usage"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HealthSources feed the health report. Every field is optional.
type HealthSources struct {
	Usage     *usage.UsageService
	Lifecycle *event.CallLifecycle
	EventBus  event.EventBus
}

// HandlerManager wires the HTTP surface of the phone agent
type HandlerManager struct {
	service   ConversationService
	signature *twilio.SignatureValidator
	health    HealthSources
}

// NewHandlerManager creates a handler manager. signature may be nil to accept unsigned webhooks.
func NewHandlerManager(service ConversationService, signature *twilio.SignatureValidator, health HealthSources) *HandlerManager {
	return &HandlerManager{
		service:   service,
		signature: signature,
		health:    health,
	}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(RequestIDMiddleware)
	router.Use(GlobalLoggingMiddleware)

	hm.SetupHealthRoutes(router)
	hm.SetupVoiceRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupVoiceRoutes registers the telephony webhooks
func (hm *HandlerManager) SetupVoiceRoutes(router *mux.Router) {
	voiceRouter := router.NewRoute().Subrouter()
	voiceRouter.Use(RecoveryMiddleware)
	if hm.signature != nil {
		voiceRouter.Use(hm.signature.Middleware)
	}

	voiceHandler := NewVoiceWebhookHandler(hm.service)
	voiceHandler.SetupVoiceWebhookRoutes(voiceRouter)

	logger.Base().Info("voice webhook routes registered",
		zap.Bool("signature_validation", hm.signature != nil),
		zap.Strings("paths", []string{config.HandleCallPath, config.ProcessSpeechPath, config.CallStatusPath}),
	)
}

// SetupHealthRoutes registers the health check
func (hm *HandlerManager) SetupHealthRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", hm.healthz).Methods(http.MethodGet)
}
