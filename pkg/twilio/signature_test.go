package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testAuthToken = "12345"
	testBaseURL   = "https://agent.example.com"
)

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedRequest(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/process_speech", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	return req
}

func TestSignatureValidator(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hello there"}}
	good := sign(testAuthToken, testBaseURL+"/process_speech", form)
	v := NewSignatureValidator(testAuthToken, testBaseURL+"/")

	assert.True(t, v.Validate(signedRequest(form, good)))
	assert.False(t, v.Validate(signedRequest(form, "")))
	assert.False(t, v.Validate(signedRequest(form, sign("other-token", testBaseURL+"/process_speech", form))))

	tampered := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"goodbye"}}
	assert.False(t, v.Validate(signedRequest(tampered, good)))
}

func TestSignatureMiddleware(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}}
	v := NewSignatureValidator(testAuthToken, testBaseURL)

	var reached bool
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		assert.Equal(t, "CA1", r.FormValue("CallSid"))
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(form, "bogus"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, reached)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(form, sign(testAuthToken, testBaseURL+"/process_speech", form)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reached)
}
