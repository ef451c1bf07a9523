package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusgw/gateway/internal/auth"
)

// responseWriter wraps http.ResponseWriter to capture the status code
// written, matching the teacher's web.responseWriter idiom.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// requestIDMiddleware assigns a correlation id to every request, reusing an
// inbound X-Request-Id header when the caller supplied one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// loggingMiddleware logs each request's method, path, status, and duration.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			if logger != nil {
				id, _ := RequestIDFromContext(r.Context())
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", wrapped.status,
					"duration", time.Since(start),
					"request_id", id,
				)
			}
		})
	}
}

// recoveryMiddleware converts a panic in a handler into a 500 response
// instead of crashing the server.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logger != nil {
						logger.Error("http handler panic", "error", rec, "path", r.URL.Path)
					}
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// optionalPrincipalMiddleware attaches a principal to the context when a
// bearer credential is present and valid; it never rejects the request, so
// unauthenticated chat traffic still reaches the handler without any
// permitted tools (spec.md §4.8's "unauthenticated chat" path).
func optionalPrincipalMiddleware(validator *auth.PrincipalValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator != nil {
				if bearer := r.Header.Get("Authorization"); bearer != "" {
					principal, err := validator.Validate(bearer)
					if err == nil {
						r = r.WithContext(WithPrincipal(r.Context(), principal))
					} else if logger != nil {
						logger.Debug("optional credential rejected", "error", err)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requirePrincipalMiddleware rejects the request with 401 unless a valid
// bearer credential is present, for the authenticated chat and permissions
// endpoints.
func requirePrincipalMiddleware(validator *auth.PrincipalValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := r.Header.Get("Authorization")
			if bearer == "" || validator == nil {
				writeError(w, http.StatusUnauthorized, "auth_missing", "credential required")
				return
			}
			principal, err := validator.Validate(bearer)
			if err != nil {
				status, code := classifyAuthError(err)
				if logger != nil {
					logger.Warn("credential rejected", "error", err)
				}
				writeError(w, status, code, "invalid credential")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func classifyAuthError(err error) (int, string) {
	var ae *auth.AuthError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case auth.AuthErrorExpired:
			return http.StatusUnauthorized, "auth_expired"
		case auth.AuthErrorInvalid:
			return http.StatusUnauthorized, "auth_invalid"
		default:
			return http.StatusInternalServerError, "auth_system"
		}
	}
	return http.StatusUnauthorized, "auth_invalid"
}

// chain applies middleware in the given order, first listed runs outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
