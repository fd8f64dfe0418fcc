package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ClareAI/astra-phone-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.PhoneAgentConfig {
	return &config.PhoneAgentConfig{
		Port:              "0",
		TwilioAccountSID:  "AC123",
		TwilioAuthToken:   "token",
		TwilioPhoneNumber: "+15550001111",
		WebhookBaseURL:    "https://agent.example.com",
		OpenAIAPIKey:      "sk-test",
		OpenAIBaseURL:     config.DefaultOpenAIBaseURL,
		OpenAIModel:       config.DefaultOpenAIModel,
		MaxTokens:         config.DefaultMaxTokens,
		Temperature:       config.DefaultTemperature,
		CompletionTimeout: config.DefaultCompletionTimeout,
		SessionStore:      config.SessionStoreMemory,
		ExitOnGoodbye:     true,
		ShutdownTimeout:   time.Second,
	}
}

func TestGoodbyeShutsServerDown(t *testing.T) {
	server, err := NewServer(testConfig())
	require.NoError(t, err)

	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"goodbye"}}
	req := httptest.NewRequest(http.MethodPost, config.ProcessSpeechPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Hangup")

	select {
	case <-server.shutdown.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("goodbye did not shut the server down")
	}
	assert.Contains(t, server.shutdown.Reason(), "CA1")
}

func TestGoodbyeKeepsServingWhenExitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ExitOnGoodbye = false
	server, err := NewServer(cfg)
	require.NoError(t, err)

	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"end call"}}
	req := httptest.NewRequest(http.MethodPost, config.ProcessSpeechPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	server.router.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case <-server.shutdown.Done():
		t.Fatal("server shut down although exit on goodbye is disabled")
	case <-time.After(config.DefaultShutdownFlushDelay + 200*time.Millisecond):
	}
}

func TestNewServerFailsWithoutRedis(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStore = config.SessionStoreRedis
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = "1"

	_, err := NewServer(cfg)
	assert.Error(t, err)
}

type initiatorFunc func(ctx context.Context, to string) (string, error)

func (f initiatorFunc) InitiateCall(ctx context.Context, to string) (string, error) {
	return f(ctx, to)
}

func originatingConfig() *config.PhoneAgentConfig {
	cfg := testConfig()
	cfg.OriginateOnStart = true
	cfg.TargetPhoneNumber = "+14155552671"
	return cfg
}

// localURL points at the bound listener over loopback
func localURL(server *Server, path string) string {
	_, port, err := net.SplitHostPort(server.Addr())
	if err != nil {
		return ""
	}
	return "http://127.0.0.1:" + port + path
}

func healthStatus(url string) (int, error) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func TestStartShutsDownWhenOriginationFails(t *testing.T) {
	server, err := NewServer(originatingConfig())
	require.NoError(t, err)

	var (
		dialled         string
		reachableStatus int
		reachableErr    error
	)
	rejected := errors.New("provider rejected the call")
	server.calls = initiatorFunc(func(ctx context.Context, to string) (string, error) {
		dialled = to
		// webhooks must already answer when the provider fetches the first document
		reachableStatus, reachableErr = healthStatus(localURL(server, "/healthz"))
		return "", rejected
	})

	err = server.Start(context.Background())
	assert.ErrorIs(t, err, rejected)

	assert.Equal(t, "+14155552671", dialled)
	require.NoError(t, reachableErr)
	assert.Equal(t, http.StatusOK, reachableStatus)

	select {
	case <-server.shutdown.Done():
	default:
		t.Fatal("shutdown did not finish before Start returned")
	}
	assert.Equal(t, "origination failed", server.shutdown.Reason())

	_, err = healthStatus(localURL(server, "/healthz"))
	assert.Error(t, err)
}

func TestStartReturnsCleanlyWhenContextEnds(t *testing.T) {
	server, err := NewServer(originatingConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.calls = initiatorFunc(func(context.Context, string) (string, error) {
		cancel()
		return "CA1", nil
	})

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the context ended")
	}

	select {
	case <-server.shutdown.Done():
	default:
		t.Fatal("shutdown did not finish before Start returned")
	}
	assert.Equal(t, "signal received", server.shutdown.Reason())
}

func TestStartSkipsOriginationWhenDisabled(t *testing.T) {
	server, err := NewServer(testConfig())
	require.NoError(t, err)

	server.calls = initiatorFunc(func(context.Context, string) (string, error) {
		t.Error("no call should be placed")
		return "", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	require.Eventually(t, func() bool {
		status, err := healthStatus(localURL(server, "/healthz"))
		return err == nil && status == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the context ended")
	}
}
