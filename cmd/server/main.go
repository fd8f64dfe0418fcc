package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ClareAI/astra-phone-agent/internal/config"
	"github.com/ClareAI/astra-phone-agent/internal/core/event"
	"github.com/ClareAI/astra-phone-agent/internal/core/lifecycle"
	"github.com/ClareAI/astra-phone-agent/internal/core/model/openai"
	"github.com/ClareAI/astra-phone-agent/internal/core/session"
	"github.com/ClareAI/astra-phone-agent/internal/handler"
	"github.com/ClareAI/astra-phone-agent/internal/services/call"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"github.com/ClareAI/astra-phone-agent/pkg/redis"
	"github.com/ClareAI/astra-phone-agent/pkg/twilio"
	"github.com/ClareAI/astra-phone-agent/pkg/usage"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	sessionCheckInterval = 2 * time.Minute
	sessionIdleTimeout   = 10 * time.Minute
)

// callInitiator places the outbound call once the webhooks are reachable
type callInitiator interface {
	InitiateCall(ctx context.Context, to string) (string, error)
}

// Server represents the phone agent server
type Server struct {
	config        *config.PhoneAgentConfig
	router        *mux.Router
	httpServer    *http.Server
	listenerMu    sync.Mutex
	listener      net.Listener
	sessions      *session.Manager
	eventBus      *event.DefaultEventBus
	callLifecycle *event.CallLifecycle
	calls         callInitiator
	shutdown      *lifecycle.Controller
	redisSvc      *redis.RedisService
}

// NewServer creates the phone agent server and all of its services
func NewServer(cfg *config.PhoneAgentConfig) (*Server, error) {
	store, redisSvc, err := newSessionStore(cfg)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(store)

	eventBus := event.NewEventBus()
	for _, mw := range event.CreateDefaultMiddlewareChain() {
		eventBus.Use(mw)
	}

	completer := openai.NewClient(openai.Config{
		APIKey:            cfg.OpenAIAPIKey,
		BaseURL:           cfg.OpenAIBaseURL,
		Model:             cfg.OpenAIModel,
		Timeout:           cfg.CompletionTimeout,
		MaxRetries:        cfg.CompletionRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})

	serviceCfg := call.DefaultServiceConfig()
	serviceCfg.MaxTokens = cfg.MaxTokens
	serviceCfg.Temperature = cfg.Temperature
	conversation := call.NewConversationService(serviceCfg, completer, sessions, eventBus)

	usageService := usage.NewUsageService()
	if err := usageService.Subscribe(eventBus); err != nil {
		return nil, err
	}
	callLifecycle, err := event.NewCallLifecycle(eventBus, event.DefaultEndedRetention)
	if err != nil {
		return nil, err
	}

	var signature *twilio.SignatureValidator
	if cfg.ValidateTwilioSignature {
		signature = twilio.NewSignatureValidator(cfg.TwilioAuthToken, cfg.WebhookBaseURL)
	}

	router := mux.NewRouter()
	handler.NewHandlerManager(conversation, signature, handler.HealthSources{
		Usage:     usageService,
		Lifecycle: callLifecycle,
		EventBus:  eventBus,
	}).SetupAllRoutes(router)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	calls := twilio.NewCallService(twilio.CallServiceConfig{
		AccountSID:        cfg.TwilioAccountSID,
		AuthToken:         cfg.TwilioAuthToken,
		FromNumber:        cfg.TwilioPhoneNumber,
		AnswerURL:         cfg.WebhookURL(config.HandleCallPath),
		StatusCallbackURL: cfg.WebhookURL(config.CallStatusPath),
	})

	server := &Server{
		config:        cfg,
		router:        router,
		httpServer:    httpServer,
		sessions:      sessions,
		eventBus:      eventBus,
		callLifecycle: callLifecycle,
		calls:         calls,
		shutdown:      lifecycle.NewController(httpServer, config.DefaultShutdownFlushDelay, cfg.ShutdownTimeout),
		redisSvc:      redisSvc,
	}

	if cfg.ExitOnGoodbye {
		if err := eventBus.Subscribe(event.GoodbyeHeard, server.shutdown.HandleGoodbye); err != nil {
			return nil, err
		}
	}

	return server, nil
}

func newSessionStore(cfg *config.PhoneAgentConfig) (session.Store, *redis.RedisService, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		logger.Base().Info("Using in-memory session store")
		return session.NewMemoryStore(), nil, nil
	}

	redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Base().Info("Using redis session store", zap.String("host", cfg.RedisHost), zap.String("port", cfg.RedisPort))
	return session.NewRedisStore(redisSvc), redisSvc, nil
}

// Start serves webhooks, places the outbound call and blocks until shutdown completes
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go s.sessions.StartCleanupRoutine(sweepCtx, sessionCheckInterval, sessionIdleTimeout)

	s.shutdown.OnShutdown(func(context.Context) {
		stopSweep()
		s.eventBus.Wait()
		for sid, state := range s.callLifecycle.GetAllCalls() {
			logger.Base().Info("Call state at shutdown",
				zap.String("call_sid", sid),
				zap.Stringer("phase", state.Phase),
				zap.Int("turns", state.Turns),
			)
		}
		_ = s.callLifecycle.Close()
		_ = s.eventBus.Close()
		if s.redisSvc != nil {
			if err := s.redisSvc.Close(); err != nil {
				logger.Base().Warn("Failed to close redis", zap.Error(err))
			}
		}
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if s.config.OriginateOnStart {
		callSID, err := s.calls.InitiateCall(ctx, s.config.TargetPhoneNumber)
		if err != nil {
			_ = s.shutdown.Shutdown(context.Background(), "origination failed")
			return err
		}
		_ = s.eventBus.Publish(event.CallOriginated, callSID, nil)
	}

	select {
	case <-ctx.Done():
		s.logShutdownError(s.shutdown.Shutdown(context.Background(), "signal received"))
		return nil
	case <-s.shutdown.Done():
		s.logShutdownError(s.shutdown.Err())
		return nil
	case err := <-serveErr:
		_ = s.shutdown.Shutdown(context.Background(), "server error")
		return err
	}
}

// Addr returns the address the server listens on once Start has bound it
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// logShutdownError reports a failed drain. The process still exits normally.
func (s *Server) logShutdownError(err error) {
	if err != nil {
		logger.Base().Warn("Shutdown finished with error", zap.Error(err))
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		// No .env file is fine in deployed environments
		logger.Base().Debug("No .env file loaded", zap.Error(err))
	}

	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}
	defer logger.Sync()

	cfg := config.LoadConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Base().Error("Invalid configuration", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize server", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Base().Error("Server stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Base().Info("Server exited cleanly", zap.String("reason", server.shutdown.Reason()))
}
