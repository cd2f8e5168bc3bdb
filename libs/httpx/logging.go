package httpx

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Redactor rewrites a request path before it reaches logs or traces.
type Redactor func(path string) string

// RedactAfter replaces the segment that follows any of prefixes with ":redacted".
// Prefixes end with a slash, e.g. "/api/v1/public/appointments/".
func RedactAfter(prefixes ...string) Redactor {
	return func(path string) string {
		for _, p := range prefixes {
			rest, ok := strings.CutPrefix(path, p)
			if !ok || rest == "" {
				continue
			}
			tail := ""
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				tail = rest[i:]
			}
			return p + ":redacted" + tail
		}
		return path
	}
}

// Matches reports whether r would rewrite path.
func (r Redactor) Matches(path string) bool {
	return r != nil && r(path) != path
}

func (r Redactor) apply(path string) string {
	if r == nil {
		return path
	}
	return r(path)
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// WithAccessLog logs one line per request. Server errors are logged at error level.
// A non-nil redact hides secrets carried in the path.
func WithAccessLog(logger *slog.Logger, redact Redactor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			level := slog.LevelInfo
			if sw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", redact.apply(r.URL.Path),
				"route", r.Pattern,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
