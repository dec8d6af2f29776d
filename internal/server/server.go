package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ctrlsys/ctrlsys/internal/auth"
	"github.com/ctrlsys/ctrlsys/internal/controlplane"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/ratelimit"
	"github.com/ctrlsys/ctrlsys/internal/service/timers"
)

// Server is the ctrlsys HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Reports, Keys, Limiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Timers *timers.Service
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Reports   *controlplane.Server
	Keys      *auth.KeyChecker
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	OpenAPISpec []byte // Embedded OpenAPI YAML.

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	Operator            string
	Backend             string
	MaxRequestBodyBytes int64
	WSPushInterval      time.Duration
	WSWriteDeadline     time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Timers:              cfg.Timers,
		Reports:             cfg.Reports,
		JWTMgr:              cfg.JWTMgr,
		Keys:                cfg.Keys,
		Operator:            cfg.Operator,
		Backend:             cfg.Backend,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		WSPushInterval:      cfg.WSPushInterval,
		WSWriteDeadline:     cfg.WSWriteDeadline,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	limited := func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "rate limit exceeded")
	}
	authRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, limited, cfg.Logger)
	writeRL := ratelimit.Middleware(limiter, operatorKeyFunc, limited, cfg.Logger)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Timer mutations (rate limited per operator).
	mux.Handle("POST /v1/timers", writeRL(http.HandlerFunc(h.HandleCreateTimer)))
	mux.Handle("DELETE /v1/timers/{id}", writeRL(http.HandlerFunc(h.HandleCancelTimer)))
	mux.Handle("POST /v1/timers/{id}/start", writeRL(http.HandlerFunc(h.HandleStartTimer)))
	mux.Handle("DELETE /v1/timers/{id}/purge", writeRL(http.HandlerFunc(h.HandlePurgeTimer)))

	// Reads.
	mux.HandleFunc("GET /v1/timers", h.HandleListTimers)
	mux.HandleFunc("GET /v1/timers/{id}", h.HandleGetTimer)
	mux.HandleFunc("GET /v1/jobs/{timer_id}", h.HandleGetJobReport)

	// Long-lived streams (no rate limit).
	mux.HandleFunc("GET /v1/timers/{id}/ws", h.HandleTimerWS)
	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health and API description (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// operatorKeyFunc keys write rate limits by the authenticated operator.
func operatorKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return "op:" + claims.Operator
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
