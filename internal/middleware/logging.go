package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// RequestIDHeader carries the id of a request in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the id the Logger middleware assigned to the request
// in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// responseWriter captures the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the connection, so streams
// can set write deadlines through the middleware.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush keeps the change feed working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	// SkipPaths are path prefixes that are never logged.
	SkipPaths []string
	// LogHealthChecks logs probe requests too.
	LogHealthChecks bool
	// SlowThreshold logs requests that took longer at warn level. Zero
	// disables it. Long-lived streams (exports, the change feed) are
	// exempt.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig returns the default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/metrics"},
		SlowThreshold: 2 * time.Second,
	}
}

var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

var streamingPaths = map[string]bool{
	"/api/events": true,
	"/api/export": true,
}

// Logger assigns every request an id, echoes it in the response and logs
// one structured line per request to the "http" logger.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	log := logging.Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)
			elapsed := time.Since(start)

			fields := requestFields(r, wrapped, elapsed)
			slow := config.SlowThreshold > 0 && elapsed > config.SlowThreshold && !streamingPaths[r.URL.Path]
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				log.Warnw("request failed", fields...)
			case slow:
				log.Warnw("slow request", fields...)
			default:
				log.Infow("request", fields...)
			}
		})
	}
}

func requestFields(r *http.Request, rw *responseWriter, elapsed time.Duration) []interface{} {
	fields := []interface{}{
		"request_id", RequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", rw.statusCode,
		"bytes", rw.bytesWritten,
		"duration_ms", elapsed.Milliseconds(),
		"client_ip", getClientIP(r),
	}
	if r.URL.RawQuery != "" {
		fields = append(fields, "query", r.URL.RawQuery)
	}
	if enc := rw.Header().Get("Content-Encoding"); enc != "" {
		fields = append(fields, "encoding", enc)
	}
	if ua := r.UserAgent(); ua != "" {
		fields = append(fields, "user_agent", ua)
	}
	return fields
}

func shouldSkip(path string, config LoggingConfig) bool {
	for _, prefix := range config.SkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return !config.LogHealthChecks && healthCheckPaths[path]
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
