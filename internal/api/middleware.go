/*-------------------------------------------------------------------------
 *
 * middleware.go
 *    HTTP middleware for the NeuronLedger API
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/middleware.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/observability"
)

/* LoggingMiddleware logs requests and records request metrics by route template */
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		if traceID := observability.TraceIDFromContext(r.Context()); traceID != "" {
			r = r.WithContext(metrics.WithTraceIDLogContext(r.Context(), traceID))
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, endpoint, wrapped.statusCode, duration)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        endpoint,
			"status":      wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
		}
		if wrapped.statusCode >= http.StatusInternalServerError {
			metrics.WarnWithContext(r.Context(), "HTTP request failed", fields)
		} else {
			metrics.DebugWithContext(r.Context(), "HTTP request", fields)
		}
	})
}

/* RecoveryMiddleware turns handler panics into 500 responses */
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("handler panicked: %v", rec)
				metrics.ErrorWithContext(r.Context(), "HTTP handler panic", err, map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
				})
				respondError(w, WrapError(NewError(http.StatusInternalServerError, "internal server error", nil), GetRequestID(r.Context())))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

/* CORSMiddleware allows the configured origins; an empty list allows none */
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", HeaderTenantID, HeaderUserID},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return c.Handler
}

/* TracingMiddleware starts a server span per request */
func TracingMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "ledger-api",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					return r.Method + " " + tmpl
				}
			}
			return r.Method + " " + r.URL.Path
		}),
	)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

/* Hijack lets the websocket upgrader take over the connection */
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
