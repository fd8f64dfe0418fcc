package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-3.5-turbo",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8},
	})
	return string(body)
}

func apiError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"server_error"}}`))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		APIKey:        "sk-test",
		BaseURL:       srv.URL,
		Model:         "gpt-3.5-turbo",
		Timeout:       2 * time.Second,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func validRequest(utterance string) CompletionRequest {
	return CompletionRequest{
		SystemInstruction: "You are an AI assistant.",
		UserUtterance:     utterance,
		MaxTokens:         150,
		Temperature:       0.8,
	}
}

func TestCompleteSendsExactRequestAndTrimsReply(t *testing.T) {
	var got recordedRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse("  It is sunny today.  \n")))
	})

	reply, err := client.Complete(context.Background(), validRequest("What's the weather"))
	require.NoError(t, err)
	assert.Equal(t, "It is sunny today.", reply)

	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.Equal(t, 150, got.MaxTokens)
	assert.InDelta(t, 0.8, got.Temperature, 0.0001)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "You are an AI assistant.", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "What's the weather", got.Messages[1].Content)
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			apiError(w, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse("third time lucky")))
	})

	reply, err := client.Complete(context.Background(), validRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", reply)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCompleteGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		apiError(w, http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), validRequest("hi"))
	require.Error(t, err)

	var failure *CompletionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, http.StatusTooManyRequests, failure.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		apiError(w, http.StatusUnauthorized)
	})

	_, err := client.Complete(context.Background(), validRequest("hi"))

	var failure *CompletionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.Attempts)
	assert.Equal(t, http.StatusUnauthorized, failure.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCompleteEmptyChoicesIsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	})

	_, err := client.Complete(context.Background(), validRequest("hi"))
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestCompleteWhitespaceReplyIsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse("   ")))
	})

	_, err := client.Complete(context.Background(), validRequest("hi"))
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestCompleteTimesOutSlowAttempts(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, func(c *Config) {
		c.Timeout = 20 * time.Millisecond
		c.MaxRetries = 1
	})

	start := time.Now()
	_, err := client.Complete(context.Background(), validRequest("hi"))
	require.Error(t, err)

	var failure *CompletionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 2, failure.Attempts)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestCompleteRejectsInvalidRequestsWithoutCalling(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	bad := []CompletionRequest{
		{UserUtterance: "", MaxTokens: 150, Temperature: 0.8},
		{UserUtterance: "hi", MaxTokens: 0, Temperature: 0.8},
		{UserUtterance: "hi", MaxTokens: 150, Temperature: 2.5},
		{UserUtterance: "hi", MaxTokens: 150, Temperature: -1},
		{UserUtterance: "hi", MaxTokens: 150, Temperature: 0},
	}
	for _, req := range bad {
		_, err := client.Complete(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		var failure *CompletionFailure
		assert.True(t, errors.As(err, &failure))
	}
	assert.Zero(t, calls.Load())
}

func TestCompleteHonoursCancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatResponse("late")))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, validRequest("hi"))
	var failure *CompletionFailure
	assert.True(t, errors.As(err, &failure))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("connection reset")))
	assert.True(t, isTransient(context.DeadlineExceeded))
}
