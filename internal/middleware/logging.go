package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/media-resource-loader/internal/metrics"
)

// LoggingMiddleware wraps handlers with request logging.
func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			fields := logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.UserAgent(),
				"status":      rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       rw.bytesWritten,
			}
			if rng := r.Header.Get("Range"); rng != "" {
				fields["range"] = rng
			}

			entry := logger.WithFields(fields)
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("HTTP request")
				return
			}
			entry.Info("HTTP request")
		})
	}
}

// MetricsMiddleware records request counts, latency and response bytes. Paths
// are labelled by route template when the request matched a mux route.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.RecordHTTPRequest(r.Context(), r.Method, path, rw.statusCode, time.Since(start), rw.bytesWritten)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
// It forwards Flush so streamed chunks reach the client as they are written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
