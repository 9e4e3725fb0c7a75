package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// withOtelMiddleware adds OpenTelemetry tracing and access logging to the
// HTTP handler.
func (s *Server) withOtelMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip tracing for streaming endpoints
		if strings.HasSuffix(r.URL.Path, "/events") {
			next.ServeHTTP(w, r)
			return
		}

		startTime := time.Now()

		log := s.logger.With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)

		// Start a new span for the request
		ctx, span := s.tp.Start(
			r.Context(),
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("http.remote_addr", r.RemoteAddr),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		// Wrapped response writer to capture the status code
		wrw := &customResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}

		// Continue the request with the new context
		next.ServeHTTP(wrw, r.WithContext(ctx))

		duration := time.Since(startTime)

		// Set the status code in the span
		span.SetAttributes(attribute.Int("http.status_code", wrw.status))

		logFields := []zap.Field{
			zap.Int("status", wrw.status),
			zap.Duration("duration", duration),
		}

		msg := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		//nolint:gocritic // This if-else chain is better than a switch statement
		if wrw.status >= 500 {
			log.Error(msg, logFields...)
			span.RecordError(fmt.Errorf("server error: %s", http.StatusText(wrw.status)))
		} else if wrw.status >= 400 {
			log.Warn(msg, logFields...)
			span.RecordError(fmt.Errorf("client error: %s", http.StatusText(wrw.status)))
		} else {
			log.Info(msg, logFields...)
		}
	})
}

// withRequestBodyLimit bounds the size of request bodies.
func (s *Server) withRequestBodyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.requestBodyLimit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.requestBodyLimit)
		}
		next(w, r)
	}
}
