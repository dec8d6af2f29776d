// Package ratelimit throttles REST callers with per-key token buckets.
//
// The control plane keys POST /auth/token by client IP and the /v1 routes by
// operator, so a leaked token cannot hammer the store.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. An error means the
	// limiter itself failed; callers fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases background resources.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over the limit by calling limited, which is
// expected to write a 429 in the caller's error envelope.
func Middleware(l Limiter, key KeyFunc, limited http.HandlerFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := l.Allow(r.Context(), k)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "key", k, "error", err)
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", "1")
				limited(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc keys by the connection's remote IP. X-Forwarded-For is not
// trusted; run behind a proxy that rewrites RemoteAddr if one is needed.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return "ip:" + host
}
