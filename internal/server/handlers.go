package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ctrlsys/ctrlsys/internal/auth"
	"github.com/ctrlsys/ctrlsys/internal/controlplane"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/service/timers"
)

// sseKeepalive is how often an idle SSE stream gets a comment line.
const sseKeepalive = 15 * time.Second

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	timers              *timers.Service
	reports             *controlplane.Server
	jwtMgr              *auth.JWTManager
	keys                *auth.KeyChecker
	operator            string
	backend             string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	wsPushInterval      time.Duration
	wsWriteDeadline     time.Duration
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Reports, Keys, OpenAPISpec.
type HandlersDeps struct {
	Timers              *timers.Service
	Reports             *controlplane.Server
	JWTMgr              *auth.JWTManager
	Keys                *auth.KeyChecker
	Operator            string
	Backend             string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	WSPushInterval      time.Duration
	WSWriteDeadline     time.Duration
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	h := &Handlers{
		timers:              d.Timers,
		reports:             d.Reports,
		jwtMgr:              d.JWTMgr,
		keys:                d.Keys,
		operator:            d.Operator,
		backend:             d.Backend,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		wsPushInterval:      d.WSPushInterval,
		wsWriteDeadline:     d.WSWriteDeadline,
		openapiSpec:         d.OpenAPISpec,
	}
	if h.operator == "" {
		h.operator = timers.DefaultCreatedBy
	}
	if h.maxRequestBodyBytes <= 0 {
		h.maxRequestBodyBytes = 1 << 20
	}
	if h.wsPushInterval <= 0 {
		h.wsPushInterval = time.Second
	}
	if h.wsWriteDeadline <= 0 {
		h.wsWriteDeadline = 10 * time.Second
	}
	return h
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if h.keys == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "token issuance is not configured")
		return
	}
	if !h.keys.Check(req.APIKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(h.operator)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("token issued", "operator", h.operator, "remote_addr", r.RemoteAddr)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleSubscribe handles GET /v1/subscribe: every timer transition and job
// completion report as server-sent events.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	timerSub := h.timers.Hub().Subscribe()
	defer timerSub.Close()
	var reportC <-chan model.JobReport
	if h.reports != nil {
		reportSub := h.reports.Hub().Subscribe()
		defer reportSub.Close()
		reportC = reportSub.C()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		var (
			event string
			data  any
		)
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
			continue
		case ev, ok := <-timerSub.C():
			if !ok {
				return
			}
			event, data = "timer", ev
		case rep, ok := <-reportC:
			if !ok {
				return
			}
			event, data = "job_report", rep
		}

		payload, err := json.Marshal(data)
		if err != nil {
			h.logger.Warn("sse: marshal event", "event", event, "error", err)
			continue
		}
		if _, err := w.Write(formatSSE(event, payload)); err != nil {
			return
		}
		flusher.Flush()
	}
}

// formatSSE formats one event as a Server-Sent Events message.
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	return append(out, "\n\n"...)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.timers.Ping(r.Context()); err != nil {
		storeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:      status,
		Version:     h.version,
		Backend:     h.backend,
		Storage:     storeStatus,
		Subscribers: h.timers.Hub().Len(),
		Dropped:     h.timers.Hub().Dropped(),
		Uptime:      int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
