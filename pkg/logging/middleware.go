package logging

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPMiddleware logs each HTTP request, including websocket upgrades, and
// puts a request id in the request context.
func HTTPMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			r = r.WithContext(ContextWithRequestID(r.Context(), requestID))

			reqLogger := logger.WithFields(
				String("request_id", requestID),
				String("method", r.Method),
				String("path", r.URL.Path),
				String("remote_addr", r.RemoteAddr),
			)
			reqLogger.Debug("HTTP request started")

			start := time.Now()
			next.ServeHTTP(w, r)
			reqLogger.Debug("HTTP request completed", Duration("duration", time.Since(start)))
		})
	}
}

// HandlerFunc matches the transport's request handler signature
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// WrapHandler logs the start, duration and outcome of a request handler
func WrapHandler(logger Logger, method string, handler HandlerFunc) HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		l := logger.WithContext(ctx).WithFields(String("method", method))
		l.Debug("Handling request")

		start := time.Now()
		result, err := handler(ctx, params)
		duration := time.Since(start)

		if err != nil {
			l.WithError(err).Warn("Request failed", Duration("duration", duration))
		} else {
			l.Debug("Request completed", Duration("duration", duration))
		}
		return result, err
	}
}
