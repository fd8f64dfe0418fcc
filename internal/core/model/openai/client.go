package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultRetryInterval = 200 * time.Millisecond
	maxTemperature       = 2.0
)

// CompletionRequest is one system instruction plus one caller utterance
type CompletionRequest struct {
	SystemInstruction string
	UserUtterance     string
	MaxTokens         int
	Temperature       float32
}

// Config configures the completion client
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	MaxRetries        int
	RetryInterval     time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client calls the chat completion API with a bounded time budget
type Client struct {
	api           *goopenai.Client
	model         string
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
	limiter       *rate.Limiter
}

// NewClient creates a completion client
func NewClient(cfg Config) *Client {
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		api:           goopenai.NewClientWithConfig(apiCfg),
		model:         cfg.Model,
		timeout:       cfg.Timeout,
		maxRetries:    cfg.MaxRetries,
		retryInterval: retryInterval,
		limiter:       rate.NewLimiter(limit, 1),
	}
}

// Complete returns the trimmed text of the first choice. Every error is a *CompletionFailure.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", &CompletionFailure{Err: err}
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.SystemInstruction},
			{Role: goopenai.ChatMessageRoleUser, Content: req.UserUtterance},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var (
		attempts int
		reply    string
		lastCode int
	)
	operation := func() error {
		attempts++

		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.api.CreateChatCompletion(attemptCtx, chatReq)
		if err != nil {
			lastCode = statusCode(err)
			logger.Warn(ctx, "completion attempt failed",
				zap.Int("attempt", attempts),
				zap.Int("status", lastCode),
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			)
			if ctx.Err() != nil || !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		if len(resp.Choices) == 0 {
			return backoff.Permanent(ErrEmptyReply)
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return backoff.Permanent(ErrEmptyReply)
		}

		logger.Debug(ctx, "completion succeeded",
			zap.Int("attempt", attempts),
			zap.Int("total_tokens", resp.Usage.TotalTokens),
			zap.Duration("latency", time.Since(start)),
		)
		reply = text
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, retry); err != nil {
		return "", &CompletionFailure{Attempts: attempts, StatusCode: lastCode, Err: err}
	}
	return reply, nil
}

func validateRequest(req CompletionRequest) error {
	switch {
	case strings.TrimSpace(req.UserUtterance) == "":
		return fmt.Errorf("%w: user utterance is empty", ErrInvalidRequest)
	case req.MaxTokens <= 0:
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidRequest, req.MaxTokens)
	case req.Temperature <= 0 || req.Temperature > maxTemperature:
		// go-openai omits a zero temperature, so the API default would apply silently
		return fmt.Errorf("%w: temperature %.2f outside (0, %.0f]", ErrInvalidRequest, req.Temperature, maxTemperature)
	}
	return nil
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isTransient reports whether another attempt could succeed: rate limits, server errors, network failures.
func isTransient(err error) bool {
	code := statusCode(err)
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError:
		return true
	case code >= http.StatusBadRequest:
		return false
	}
	return true
}
