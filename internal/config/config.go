package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// Webhook paths served to the telephony provider
	HandleCallPath    = "/handle_call"
	ProcessSpeechPath = "/process_speech"
	CallStatusPath    = "/call_status"

	// Gather defaults
	DefaultGatherTimeoutSeconds = 5
	DefaultSpeechInput          = "speech"

	// Completion defaults
	DefaultOpenAIBaseURL      = "https://api.openai.com/v1"
	DefaultOpenAIModel        = "gpt-3.5-turbo"
	DefaultMaxTokens          = 150
	DefaultTemperature        = 0.8
	DefaultCompletionTimeout  = 8 * time.Second
	DefaultCompletionRetries  = 2
	DefaultRequestsPerSecond  = 5.0
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultShutdownFlushDelay = 500 * time.Millisecond

	// Session store
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// PhoneAgentConfig holds everything the phone agent needs at startup
type PhoneAgentConfig struct {
	Port   string `validate:"required,numeric"`
	LogEnv string

	// Twilio configuration
	TwilioAccountSID  string `validate:"required"`
	TwilioAuthToken   string `validate:"required"`
	TwilioPhoneNumber string `validate:"required,e164"`
	TargetPhoneNumber string
	WebhookBaseURL    string `validate:"required,url"`

	// OpenAI configuration
	OpenAIAPIKey      string        `validate:"required"`
	OpenAIBaseURL     string        `validate:"required,url"`
	OpenAIModel       string        `validate:"required"`
	MaxTokens         int           `validate:"gt=0"`
	Temperature       float32       `validate:"gt=0,lte=2"`
	CompletionTimeout time.Duration `validate:"gt=0"`
	CompletionRetries int           `validate:"gte=0,lte=5"`
	RequestsPerSecond float64       `validate:"gte=0"`

	// Session store configuration
	SessionStore  string `validate:"oneof=memory redis"`
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Behaviour switches
	ValidateTwilioSignature bool
	OriginateOnStart        bool
	ExitOnGoodbye           bool
	ShutdownTimeout         time.Duration `validate:"gt=0"`

	// malformed values seen while loading; the default was kept for each
	parseErrors ValidationErrors
}

// ConfigurationError reports a missing or malformed configuration value
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ValidationErrors collects every configuration problem found in one pass
type ValidationErrors []*ConfigurationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Reason))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

// envNames maps struct fields to the environment variable that feeds them.
var envNames = map[string]string{
	"Port":              "PORT",
	"TwilioAccountSID":  "TWILIO_ACCOUNT_SID",
	"TwilioAuthToken":   "TWILIO_AUTH_TOKEN",
	"TwilioPhoneNumber": "TWILIO_PHONE_NUMBER",
	"TargetPhoneNumber": "TARGET_PHONE_NUMBER",
	"WebhookBaseURL":    "WEBHOOK_BASE_URL",
	"OpenAIAPIKey":      "OPENAI_API_KEY",
	"OpenAIBaseURL":     "OPENAI_BASE_URL",
	"OpenAIModel":       "OPENAI_MODEL",
	"MaxTokens":         "OPENAI_MAX_TOKENS",
	"Temperature":       "OPENAI_TEMPERATURE",
	"CompletionTimeout": "OPENAI_TIMEOUT",
	"CompletionRetries": "OPENAI_MAX_RETRIES",
	"RequestsPerSecond": "OPENAI_REQUESTS_PER_SECOND",
	"SessionStore":      "SESSION_STORE",
	"ShutdownTimeout":   "SHUTDOWN_TIMEOUT",
}

// LoadConfigFromEnv loads the phone agent configuration from environment variables.
// Values are not checked here; call Validate before opening any socket.
func LoadConfigFromEnv() *PhoneAgentConfig {
	webhookBase := getEnv("WEBHOOK_BASE_URL", "")
	if webhookBase == "" {
		// CALL_URL historically pointed straight at the gather webhook
		webhookBase = strings.TrimSuffix(getEnv("CALL_URL", ""), HandleCallPath)
	}

	env := &envReader{}
	cfg := &PhoneAgentConfig{
		Port:   getEnv("PORT", "5000"),
		LogEnv: getEnv("LOG_ENV", "development"),

		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
		TargetPhoneNumber: getEnv("TARGET_PHONE_NUMBER", ""),
		WebhookBaseURL:    strings.TrimSuffix(webhookBase, "/"),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", DefaultOpenAIBaseURL),
		OpenAIModel:       getEnv("OPENAI_MODEL", DefaultOpenAIModel),
		MaxTokens:         env.getEnvAsInt("OPENAI_MAX_TOKENS", DefaultMaxTokens),
		Temperature:       float32(env.getEnvAsFloat("OPENAI_TEMPERATURE", DefaultTemperature)),
		CompletionTimeout: env.getEnvAsDuration("OPENAI_TIMEOUT", DefaultCompletionTimeout),
		CompletionRetries: env.getEnvAsInt("OPENAI_MAX_RETRIES", DefaultCompletionRetries),
		RequestsPerSecond: env.getEnvAsFloat("OPENAI_REQUESTS_PER_SECOND", DefaultRequestsPerSecond),

		SessionStore:  strings.ToLower(getEnv("SESSION_STORE", SessionStoreMemory)),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       env.getEnvAsInt("REDIS_DB", 0),

		ValidateTwilioSignature: env.getEnvAsBool("VALIDATE_TWILIO_SIGNATURE", false),
		OriginateOnStart:        env.getEnvAsBool("ORIGINATE_ON_START", true),
		ExitOnGoodbye:           env.getEnvAsBool("EXIT_ON_GOODBYE", true),
		ShutdownTimeout:         env.getEnvAsDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
	}
	cfg.parseErrors = env.problems
	return cfg
}

// Validate checks the configuration and returns ValidationErrors listing every problem
func (c *PhoneAgentConfig) Validate() error {
	problems := append(ValidationErrors(nil), c.parseErrors...)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, &ConfigurationError{
				Field:  envName(fe.StructField()),
				Reason: describeTag(fe),
			})
		}
	}

	if c.OriginateOnStart {
		if c.TargetPhoneNumber == "" {
			problems = append(problems, &ConfigurationError{Field: "TARGET_PHONE_NUMBER", Reason: "is required when ORIGINATE_ON_START is true"})
		} else if err := validate.Var(c.TargetPhoneNumber, "e164"); err != nil {
			problems = append(problems, &ConfigurationError{Field: "TARGET_PHONE_NUMBER", Reason: "must be an E.164 phone number"})
		}
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}

// Addr returns the listen address for the HTTP server
func (c *PhoneAgentConfig) Addr() string {
	return ":" + c.Port
}

// WebhookURL joins the public webhook base with a path
func (c *PhoneAgentConfig) WebhookURL(path string) string {
	return c.WebhookBaseURL + path
}

func envName(field string) string {
	if name, ok := envNames[field]; ok {
		return name
	}
	return field
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "e164":
		return "must be an E.164 phone number"
	case "url":
		return "must be an absolute URL"
	case "gt":
		return "must be greater than " + fe.Param()
	case "numeric":
		return "must be numeric"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader records values that are set but cannot be parsed
type envReader struct {
	problems ValidationErrors
}

func (r *envReader) malformed(key, value, kind string) {
	r.problems = append(r.problems, &ConfigurationError{
		Field:  key,
		Reason: fmt.Sprintf("%q is not a valid %s", value, kind),
	})
}

// getEnvAsInt gets an environment variable as an integer with a default value
func (r *envReader) getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.malformed(key, value, "integer")
		return defaultValue
	}
	return intValue
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func (r *envReader) getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		r.malformed(key, value, "boolean")
		return defaultValue
	}
	return boolValue
}

func (r *envReader) getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.malformed(key, value, "number")
		return defaultValue
	}
	return f
}

func (r *envReader) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.malformed(key, value, "duration")
		return defaultValue
	}
	return d
}
