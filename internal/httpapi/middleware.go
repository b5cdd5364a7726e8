package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trailversedev/trailverse/internal/auth"
	"github.com/trailversedev/trailverse/internal/ratelimit"
	"github.com/trailversedev/trailverse/internal/store"
)

const csrfHeader = "x-csrf-token"

// withRequestContext attaches the caller's IP and user agent so the
// engine can stamp session records and audit events.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithClientIP(r.Context(), clientIP(r))
		ctx = auth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// RequireAuth runs the full gateway pipeline and attaches the identity
// to the request context. The session's CSRF token is echoed in a
// response header so clients can replay it on unsafe methods.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.engine.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			respondError(w, err)
			return
		}
		if id.CSRFToken != "" {
			w.Header().Set(csrfHeader, id.CSRFToken)
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// OptionalAuth attaches an identity when a valid token is present and
// proceeds unauthenticated otherwise.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := h.engine.OptionalAuthenticate(r.Context(), bearerToken(r)); id != nil {
			r = r.WithContext(auth.ContextWithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles gates a route on the allow-set. Must run after
// RequireAuth.
func (h *Handler) RequireRoles(allowed ...store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := h.engine.RequireRole(auth.IdentityFromContext(r.Context()), allowed...); err != nil {
				respondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireVerified gates routes reserved for accounts with a verified
// email address. Must run after RequireAuth.
func (h *Handler) RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.engine.RequireVerified(auth.IdentityFromContext(r.Context())); err != nil {
			respondError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrfGuard verifies the x-csrf-token header on state-changing methods.
// Safe methods bypass the guard entirely.
func (h *Handler) csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		id := auth.IdentityFromContext(r.Context())
		if err := h.engine.VerifyCSRF(id, r.Header.Get(csrfHeader)); err != nil {
			respondError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces the fixed-window budget for the scope and sets the
// X-RateLimit-* headers on every limited response, allowed or not.
func (h *Handler) RateLimit(scope ratelimit.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if scope == ratelimit.ScopeUser {
				if id := auth.IdentityFromContext(r.Context()); id != nil {
					key = id.UserID.String()
				}
			}

			res, err := h.engine.CheckRateLimit(r.Context(), scope, key)
			setRateHeaders(w, res)
			if err != nil {
				respondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setRateHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

// requestLogger logs one line per request with latency and status.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", clientIP(r)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
