package handlers

import (
	"net/http"
	"time"

	"github.com/hairizuan-noorazman/testflow/logger"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs every request with its status and duration.
type RequestLogger struct {
	logger logger.Logger
}

// NewRequestLogger creates a request logging middleware.
func NewRequestLogger(log logger.Logger) *RequestLogger {
	return &RequestLogger{logger: log}
}

// Handler wraps an HTTP handler with request logging.
func (m *RequestLogger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				m.logger.Error(r.Context(), "panic while handling request", logger.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  p,
				})
				respondError(rec, http.StatusInternalServerError, "internal server error")
			}

			fields := logger.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if rec.status >= http.StatusInternalServerError {
				m.logger.Warn(r.Context(), "request failed", fields)
				return
			}
			m.logger.Debug(r.Context(), "request handled", fields)
		}()

		next.ServeHTTP(rec, r)
	})
}
