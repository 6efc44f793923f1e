/*-------------------------------------------------------------------------
 *
 * log_context.go
 *    Log context helpers for structured logging
 *
 * Provides helpers for consistent structured logging with request_id,
 * tenant_id, user_id, webhook_id, delivery_id and trace_id fields across
 * all components.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/metrics/log_context.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	tenantIDKey   contextKey = "tenant_id"
	userIDKey     contextKey = "user_id"
	webhookIDKey  contextKey = "webhook_id"
	deliveryIDKey contextKey = "delivery_id"
	traceIDKey    contextKey = "trace_id"
)

/* logFieldKeys fixes the order fields are attached to a logger */
var logFieldKeys = []contextKey{requestIDKey, tenantIDKey, userIDKey, webhookIDKey, deliveryIDKey, traceIDKey}

/* WithRequestIDLogContext adds request ID to log context */
func WithRequestIDLogContext(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

/* WithTenantLogContext adds tenant and user IDs to log context */
func WithTenantLogContext(ctx context.Context, tenantID, userID string) context.Context {
	if tenantID != "" {
		ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	}
	if userID != "" {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	return ctx
}

/* WithWebhookLogContext adds webhook and delivery IDs to log context */
func WithWebhookLogContext(ctx context.Context, webhookID, deliveryID uuid.UUID) context.Context {
	if webhookID != uuid.Nil {
		ctx = context.WithValue(ctx, webhookIDKey, webhookID.String())
	}
	if deliveryID != uuid.Nil {
		ctx = context.WithValue(ctx, deliveryIDKey, deliveryID.String())
	}
	return ctx
}

/* WithTraceIDLogContext adds trace ID to log context */
func WithTraceIDLogContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

/* GetRequestIDFromContext gets request ID from context */
func GetRequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestIDKey)
}

/* GetTenantIDFromContext gets tenant ID from context */
func GetTenantIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, tenantIDKey)
}

/* GetUserIDFromContext gets user ID from context */
func GetUserIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userIDKey)
}

/* LoggerFromContext creates a zerolog logger with fields from context */
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	logger := *zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	lc := logger.With()
	for _, key := range logFieldKeys {
		if v := stringFromContext(ctx, key); v != "" {
			lc = lc.Str(string(key), v)
		}
	}
	return lc.Logger()
}

/* LogWithContext logs a message with context fields */
func LogWithContext(ctx context.Context, level zerolog.Level, message string, fields map[string]interface{}) {
	logger := LoggerFromContext(ctx)
	event := logger.WithLevel(level)

	for key, value := range fields {
		event = event.Interface(key, value)
	}

	event.Msg(message)
}

/* DebugWithContext logs a debug message with context */
func DebugWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.DebugLevel, message, fields)
}

/* InfoWithContext logs an info message with context */
func InfoWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.InfoLevel, message, fields)
}

/* WarnWithContext logs a warning message with context */
func WarnWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.WarnLevel, message, fields)
}

/* ErrorWithContext logs an error message with context */
func ErrorWithContext(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogWithContext(ctx, zerolog.ErrorLevel, message, fields)
}
