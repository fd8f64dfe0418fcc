package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ClareAI/astra-phone-agent/internal/config"
	"github.com/ClareAI/astra-phone-agent/internal/core/event"
	"github.com/ClareAI/astra-phone-agent/internal/core/voice"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"github.com/ClareAI/astra-phone-agent/pkg/usage"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ConversationService is the call logic behind the voice webhooks
type ConversationService interface {
	HandleCall(ctx context.Context, callSID string) (*voice.Document, error)
	ProcessSpeech(ctx context.Context, callSID, transcript string) (*voice.Document, error)
	CompleteCall(ctx context.Context, callSID, status string) error
	ActiveSessions(ctx context.Context) (int, error)
}

// VoiceWebhookHandler handles the provider's call webhooks
type VoiceWebhookHandler struct {
	service ConversationService
}

// NewVoiceWebhookHandler creates a new voice webhook handler
func NewVoiceWebhookHandler(service ConversationService) *VoiceWebhookHandler {
	return &VoiceWebhookHandler{service: service}
}

// SetupVoiceWebhookRoutes sets up the voice webhook routes
func (h *VoiceWebhookHandler) SetupVoiceWebhookRoutes(router *mux.Router) {
	router.HandleFunc(config.HandleCallPath, h.HandleCall).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc(config.ProcessSpeechPath, h.ProcessSpeech).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc(config.CallStatusPath, h.CallStatus).Methods(http.MethodPost)
}

// HandleCall greets the caller and starts listening
func (h *VoiceWebhookHandler) HandleCall(w http.ResponseWriter, r *http.Request) {
	ctx, callSID := callContext(r)

	doc, err := h.service.HandleCall(ctx, callSID)
	writeDocument(ctx, w, doc, err)
}

// ProcessSpeech answers what the caller said
func (h *VoiceWebhookHandler) ProcessSpeech(w http.ResponseWriter, r *http.Request) {
	ctx, callSID := callContext(r)

	transcript := r.FormValue("SpeechResult")
	logger.Info(ctx, "speech received",
		zap.String("speech_result", transcript),
		zap.String("confidence", r.FormValue("Confidence")),
	)

	doc, err := h.service.ProcessSpeech(ctx, callSID, transcript)
	writeDocument(ctx, w, doc, err)
}

// CallStatus receives call progress callbacks
func (h *VoiceWebhookHandler) CallStatus(w http.ResponseWriter, r *http.Request) {
	ctx, callSID := callContext(r)
	status := r.FormValue("CallStatus")

	logger.Info(ctx, "call status received", zap.String("call_status", status), zap.String("duration", r.FormValue("CallDuration")))

	if err := h.service.CompleteCall(ctx, callSID, status); err != nil {
		logger.Error(ctx, "failed to complete call", zap.Error(err))
		http.Error(w, "failed to record call status", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status         string          `json:"status"`
	ActiveSessions int             `json:"active_sessions"`
	Calls          map[string]int  `json:"calls,omitempty"`
	Events         *event.BusStats `json:"events,omitempty"`
	Usage          *usage.Summary  `json:"usage,omitempty"`
}

func (hm *HandlerManager) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	n, err := hm.service.ActiveSessions(r.Context())
	if err != nil {
		logger.Warn(r.Context(), "health check could not count sessions", zap.Error(err))
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	resp.ActiveSessions = n
	if hm.health.Lifecycle != nil {
		resp.Calls = hm.health.Lifecycle.PhaseCounts()
	}
	if hm.health.EventBus != nil {
		stats := hm.health.EventBus.GetStats()
		resp.Events = &stats
	}
	if hm.health.Usage != nil {
		summary := hm.health.Usage.Summary()
		resp.Usage = &summary
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// callContext parses the webhook form and returns a context logging the call sid
func callContext(r *http.Request) (context.Context, string) {
	if err := r.ParseForm(); err != nil {
		logger.Warn(r.Context(), "failed to parse webhook form", zap.Error(err))
	}
	callSID := r.FormValue("CallSid")
	return logger.WithFields(r.Context(), zap.String("call_sid", callSID)), callSID
}

// writeDocument renders doc as the response. Any failure is answered with the static fallback.
func writeDocument(ctx context.Context, w http.ResponseWriter, doc *voice.Document, err error) {
	if err != nil {
		logger.Error(ctx, "voice handler failed, sending fallback document", zap.Error(err))
		writeFallback(w)
		return
	}

	body, err := doc.Render()
	if err != nil {
		logger.Error(ctx, "failed to render voice document", zap.Error(err))
		writeFallback(w)
		return
	}

	w.Header().Set("Content-Type", voice.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeFallback(w http.ResponseWriter) {
	w.Header().Set("Content-Type", voice.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(voice.FallbackXML))
}
