package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// ErrInvalidPhoneNumber is returned for numbers that are not E.164
var ErrInvalidPhoneNumber = errors.New("phone number is not in E.164 format")

// StatusCallbackEvents are the call progress events reported to the status webhook
var StatusCallbackEvents = []string{"completed"}

var phoneValidator = validator.New()

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// CallServiceConfig holds the settings needed to place outbound calls
type CallServiceConfig struct {
	AccountSID        string
	AuthToken         string
	FromNumber        string
	AnswerURL         string
	StatusCallbackURL string
}

// CallService places outbound calls through the Twilio REST API
type CallService struct {
	calls             callCreator
	from              string
	answerURL         string
	statusCallbackURL string
}

// NewCallService creates a call service backed by the Twilio REST client
func NewCallService(cfg CallServiceConfig) *CallService {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newCallService(rest.Api, cfg)
}

func newCallService(calls callCreator, cfg CallServiceConfig) *CallService {
	return &CallService{
		calls:             calls,
		from:              cfg.FromNumber,
		answerURL:         cfg.AnswerURL,
		statusCallbackURL: cfg.StatusCallbackURL,
	}
}

// ValidatePhoneNumber checks that number is E.164 ("+" followed by up to 15 digits)
func ValidatePhoneNumber(number string) error {
	if strings.TrimSpace(number) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPhoneNumber)
	}
	if err := phoneValidator.Var(number, "e164"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, number)
	}
	return nil
}

// InitiateCall dials to and points the call at the answer webhook. It returns the provider call SID.
func (s *CallService) InitiateCall(ctx context.Context, to string) (string, error) {
	if err := ValidatePhoneNumber(to); err != nil {
		return "", fmt.Errorf("invalid destination: %w", err)
	}
	if err := ValidatePhoneNumber(s.from); err != nil {
		return "", fmt.Errorf("invalid caller id: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetUrl(s.answerURL)
	params.SetMethod("POST")
	if s.statusCallbackURL != "" {
		params.SetStatusCallback(s.statusCallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent(StatusCallbackEvents)
	}

	logger.Info(ctx, "Placing outbound call", zap.String("to", to), zap.String("from", s.from), zap.String("url", s.answerURL))

	call, err := s.calls.CreateCall(params)
	if err != nil {
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) {
			logger.Error(ctx, "Twilio rejected outbound call",
				zap.Int("code", restErr.Code),
				zap.Int("status", restErr.Status),
				zap.String("message", restErr.Message),
			)
		}
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", errors.New("failed to create call: provider returned no call sid")
	}

	logger.Info(ctx, "Outbound call created", zap.String("call_sid", *call.Sid))
	return *call.Sid, nil
}
