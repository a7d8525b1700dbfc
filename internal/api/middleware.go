package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"simgateway/internal/observability"
)

// RequestLogger logs each request once it completes and, when metrics is
// non-nil, records its latency under the matched route pattern.
func RequestLogger(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			slog.InfoContext(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", elapsed,
				"requestId", chimiddleware.GetReqID(r.Context()),
			)

			if metrics != nil {
				metrics.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r), status, elapsed.Seconds())
			}
		})
	}
}

// routeLabel prefers the chi route pattern so job IDs stay out of labels.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// Recoverer turns a handler panic into a 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.ErrorContext(r.Context(), "Panic recovered",
					"error", rec,
					"path", r.URL.Path,
					"requestId", chimiddleware.GetReqID(r.Context()),
				)
				writeErrorBody(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects POST and PUT bodies that are not JSON. A request with
// no Content-Type passes, since the action endpoints take no body.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			next.ServeHTTP(w, r)
			return
		}
		mediaType, _, _ := strings.Cut(contentType, ";")
		if !strings.EqualFold(strings.TrimSpace(mediaType), "application/json") {
			writeErrorBody(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS answers preflight requests and allows any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerAuth requires "Authorization: Bearer <apiKey>". An empty apiKey
// disables the check.
func BearerAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			switch {
			case scheme == "":
				writeErrorBody(w, http.StatusUnauthorized, "Authorization header required")
			case !ok || !strings.EqualFold(scheme, "Bearer"):
				writeErrorBody(w, http.StatusUnauthorized, "Invalid authorization header format")
			case subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1:
				writeErrorBody(w, http.StatusUnauthorized, "Invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func writeErrorBody(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
