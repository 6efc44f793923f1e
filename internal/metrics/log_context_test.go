/*-------------------------------------------------------------------------
 *
 * log_context_test.go
 *    Tests for log context helpers
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/metrics/log_context_test.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFromContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background())

	webhookID := uuid.New()
	ctx = WithRequestIDLogContext(ctx, "req-1")
	ctx = WithTenantLogContext(ctx, "tenant-a", "user-b")
	ctx = WithWebhookLogContext(ctx, webhookID, uuid.Nil)

	ErrorWithContext(ctx, "delivery failed", errors.New("boom"), map[string]interface{}{"attempt": 2})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "tenant-a", entry["tenant_id"])
	assert.Equal(t, "user-b", entry["user_id"])
	assert.Equal(t, webhookID.String(), entry["webhook_id"])
	assert.NotContains(t, entry, "delivery_id")
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "delivery failed", entry["message"])
}

func TestContextGetters(t *testing.T) {
	ctx := WithTenantLogContext(context.Background(), "t1", "")
	assert.Equal(t, "t1", GetTenantIDFromContext(ctx))
	assert.Equal(t, "", GetUserIDFromContext(ctx))
	assert.Equal(t, "", GetRequestIDFromContext(ctx))
}
