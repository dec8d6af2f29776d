package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CreateTimerRequest is the request body for POST /v1/timers.
type CreateTimerRequest struct {
	Name            string            `json:"name"`
	DurationSeconds int               `json:"duration_seconds"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// Validate checks name and duration bounds.
func (r CreateTimerRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return Validationf("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxTimerNameLen {
		return Validationf("name", "exceeds maximum length of %d characters", MaxTimerNameLen)
	}
	if r.DurationSeconds < MinDurationSeconds || r.DurationSeconds > MaxDurationSeconds {
		return Validationf("duration_seconds", "must be between %d and %d", MinDurationSeconds, MaxDurationSeconds)
	}
	for k := range r.Labels {
		if strings.TrimSpace(k) == "" {
			return Validationf("labels", "keys must not be empty")
		}
	}
	return nil
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Backend     string `json:"backend"`
	Storage     string `json:"storage"`
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped_events"`
	Uptime      int64  `json:"uptime_seconds"`
}
