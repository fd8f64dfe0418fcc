package twilio

import (
	"net/http"
	"strings"

	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC Twilio computes over each webhook request
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator verifies that webhook requests were signed with the account auth token
type SignatureValidator struct {
	validator client.RequestValidator
	baseURL   string
}

// NewSignatureValidator creates a validator. baseURL is the public origin Twilio calls,
// which differs from the Host header when the server sits behind a tunnel or proxy.
func NewSignatureValidator(authToken, baseURL string) *SignatureValidator {
	return &SignatureValidator{
		validator: client.NewRequestValidator(authToken),
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// Validate reports whether r carries a valid signature. It parses the request form.
func (v *SignatureValidator) Validate(r *http.Request) bool {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	return v.validator.Validate(v.baseURL+r.URL.RequestURI(), params, signature)
}

// Middleware rejects unsigned or wrongly signed requests with 403
func (v *SignatureValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Validate(r) {
			logger.Warn(r.Context(), "Rejected webhook with invalid Twilio signature",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
