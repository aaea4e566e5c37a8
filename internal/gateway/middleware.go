package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/types"
)

type ctxKey int

const accessContextKey ctxKey = iota

// requestIDHeader carries the caller-supplied or generated request id
const requestIDHeader = "X-Request-ID"

// AccessContextFrom returns the caller context stored by the auth middleware
func AccessContextFrom(ctx context.Context) *rbac.AccessContext {
	if ac, ok := ctx.Value(accessContextKey).(*rbac.AccessContext); ok {
		return ac
	}
	return &rbac.AccessContext{UserType: rbac.UserTypeAnonymous}
}

// securityHeadersMiddleware adds security headers
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags the request context with a request id
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := context.WithValue(r.Context(), logger.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		s.logger.WithContext(r.Context()).WithFields(logrus.Fields{
			"method":      r.Method,
			"route":       routeTemplate(r),
			"status_code": recorder.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Request processed")
	})
}

// authMiddleware resolves the caller into an AccessContext. A missing token
// yields an anonymous caller; a bad token is rejected.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := s.tokens.AccessContext(r)
		if err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), accessContextKey, ac)
		if ac.UserID != "" {
			ctx = context.WithValue(ctx, logger.UserIDKey, ac.UserID)
		}
		if ac.HubID != "" {
			ctx = context.WithValue(ctx, logger.HubIDKey, ac.HubID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware applies the per-client budget. Authenticated callers
// are keyed by user id, everyone else by address.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := AccessContextFrom(r.Context())
		key := ac.IPAddress
		if ac.UserID != "" {
			key = "user:" + ac.UserID
		}

		if !s.limiter.Allow(key) {
			s.logger.WithContext(r.Context()).WithField("client", key).Warn("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, types.ErrCodeRateLimitExceeded, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// responseRecorder captures response status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
