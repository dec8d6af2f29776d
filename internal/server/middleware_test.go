package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlsys/ctrlsys/internal/auth"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/testutil"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", seen)
}

func TestAuthMiddleware(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("operator")
	require.NoError(t, err)

	var operator string
	h := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFromContext(r.Context()); c != nil {
			operator = c.Operator
		}
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"token endpoint is public", "/auth/token", "", http.StatusOK},
		{"missing header", "/v1/timers", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/timers", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "/v1/timers", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/v1/timers", "Bearer " + token, http.StatusOK},
		{"query token on rest path", "/v1/timers?access_token=" + token, "", http.StatusUnauthorized},
		{"query token on websocket", "/v1/timers/abc/ws?access_token=" + token, "", http.StatusOK},
		{"query token on subscribe", "/v1/subscribe?access_token=" + token, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if rec.Code == http.StatusUnauthorized {
				var body model.APIError
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, model.ErrCodeUnauthorized, body.Error.Code)
			}
		})
	}
	assert.Equal(t, "operator", operator)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := requestIDMiddleware(recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeInternalError, body.Error.Code)
	assert.NotEmpty(t, body.Meta.RequestID)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var status int
	h := loggingMiddleware(testutil.TestLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		status = w.(*statusWriter).statusCode
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, http.StatusTeapot, status)
}

func TestFormatSSE(t *testing.T) {
	got := formatSSE("timer", []byte(`{"a":1}`))
	assert.Equal(t, "event: timer\ndata: {\"a\":1}\n\n", string(got))
}

func TestIsStreamingPath(t *testing.T) {
	assert.True(t, isStreamingPath("/v1/subscribe"))
	assert.True(t, isStreamingPath("/v1/timers/0b7c/ws"))
	assert.False(t, isStreamingPath("/v1/timers"))
	assert.False(t, isStreamingPath("/v1/timers/0b7c"))
}

func TestDecodeJSONLimits(t *testing.T) {
	var target model.CreateTimerRequest

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x","unknown":1}`))
	err := decodeJSON(rec, req, &target, 1024)
	require.Error(t, err)
	handleDecodeError(rec, req, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 64)+`"}`))
	err = decodeJSON(rec, req, &target, 16)
	require.Error(t, err)
	handleDecodeError(rec, req, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
