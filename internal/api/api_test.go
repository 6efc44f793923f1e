/*-------------------------------------------------------------------------
 *
 * api_test.go
 *    HTTP tests for the NeuronLedger API
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/api_test.go
 *
 *-------------------------------------------------------------------------
 */

package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurondb/NeuronLedger/internal/api"
	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/pricing"
	ledgertesting "github.com/neurondb/NeuronLedger/internal/testing"
	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

const jwtSecret = "test-secret-with-enough-entropy"

type testServer struct {
	store   *ledgertesting.MemStore
	handler http.Handler
}

func newTestServer(t *testing.T, mode string) *testServer {
	t.Helper()
	store := ledgertesting.NewMemStore()
	calc := pricing.NewStaticCalculator([]pricing.Price{
		{Provider: "openai", Model: "gpt-4o-mini", InputPer1M: decimal.RequireFromString("0.15"), OutputPer1M: decimal.RequireFromString("0.60")},
	})
	engine := webhooks.NewEngine(store, config.DefaultConfig().Webhooks)
	dispatcher := events.NewDispatcher(store, engine, events.NewBroker())
	tracker := cost.NewTracker(store, calc, dispatcher)
	registry := webhooks.NewRegistry(store, engine)

	auth, err := api.NewAuthenticator(config.AuthConfig{Mode: mode, JWTSecret: jwtSecret, JWTIssuer: "neuronledger-test"})
	require.NoError(t, err)

	h := api.NewHandlers(tracker, dispatcher, registry, calc, nil, "test")
	return &testServer{
		store:   store,
		handler: api.NewRouter(h, api.RouterOptions{Authenticator: auth, CORSOrigins: []string{"https://console.example.com"}}),
	}
}

func (s *testServer) do(t *testing.T, method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(api.HeaderTenantID, tenant)
		req.Header.Set(api.HeaderUserID, "user-1")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPIRequiresTenant(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodGet, "/api/v1/webhooks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body api.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "unauthorized", body.Error)
	assert.NotEmpty(t, body.RequestID)
}

func TestJWTAuthentication(t *testing.T) {
	s := newTestServer(t, api.AuthModeJWT)

	token, err := api.GenerateToken(jwtSecret, "neuronledger-test", "tenant-1", "user-1", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/budgets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	forged, err := api.GenerateToken("another-secret", "neuronledger-test", "tenant-1", "user-1", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/budgets", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := api.GenerateToken(jwtSecret, "neuronledger-test", "tenant-1", "user-1", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/budgets", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecordExecutionChargesAndPublishes(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodPost, "/api/v1/executions", "tenant-1", map[string]interface{}{
		"task_id":        "task-42",
		"agent_name":     "researcher",
		"user_id":        "spoofed",
		"tenant_id":      "tenant-2",
		"model_provider": "openai",
		"model_name":     "gpt-4o-mini",
		"input_tokens":   1234,
		"output_tokens":  567,
		"latency_ms":     900,
		"status":         "completed",
		"citations":      []string{"doc-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TaskID string `json:"task_id"`
		Cost   struct {
			TotalCostUSD string `json:"total_cost_usd"`
		} `json:"cost"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "task-42", resp.TaskID)
	assert.Equal(t, "0.0005253", resp.Cost.TotalCostUSD)

	execs := s.store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, "tenant-1", execs[0].TenantID)
	assert.Equal(t, "user-1", execs[0].UserID)

	assert.Eventually(t, func() bool {
		logged := s.store.Events()
		return len(logged) == 1 && logged[0].EventType == "task.completed" && logged[0].TenantID == "tenant-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecordExecutionSucceedsWhenCostTrackingFails(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodPost, "/api/v1/executions", "tenant-1", map[string]interface{}{
		"task_id":        "task-43",
		"agent_name":     "researcher",
		"model_provider": "openai",
		"model_name":     "gpt-unreleased",
		"input_tokens":   10,
		"output_tokens":  10,
		"status":         "failed",
		"error":          "tool timeout",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"cost":null`)
	assert.Empty(t, s.store.Executions())

	assert.Eventually(t, func() bool {
		logged := s.store.Events()
		return len(logged) == 1 && logged[0].EventType == "task.failed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecordExecutionRejectsMalformedInput(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodPost, "/api/v1/executions", "tenant-1", map[string]interface{}{
		"task_id": "task-44",
		"status":  "completed",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/executions", "tenant-1", map[string]interface{}{"surprise": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBudgetLifecycle(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodPost, "/api/v1/budgets", "tenant-1", map[string]interface{}{
		"user_id":           "user-1",
		"project_id":        "proj-A",
		"budget_type":       "daily",
		"budget_amount_usd": "10",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr api.ErrorResponse
	decode(t, rec, &apiErr)
	assert.Equal(t, "scope", apiErr.Field)

	rec = s.do(t, http.MethodPost, "/api/v1/budgets", "tenant-1", map[string]interface{}{
		"project_id":        "proj-A",
		"budget_type":       "monthly",
		"budget_amount_usd": "25.50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID    string `json:"id"`
		Scope string `json:"scope"`
	}
	decode(t, rec, &created)
	assert.Equal(t, "project", created.Scope)

	rec = s.do(t, http.MethodGet, "/api/v1/budgets/"+created.ID, "tenant-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/budgets/"+created.ID, "tenant-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/budgets/"+created.ID, "tenant-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/budgets/not-a-uuid", "tenant-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSecretIsOnlyShownOnCreateAndRotate(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodPost, "/api/v1/webhooks", "tenant-1", map[string]interface{}{
		"name":   "alerts",
		"url":    "https://hooks.example.com/ledger",
		"events": []string{"budget.exceeded"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	decode(t, rec, &created)
	assert.Len(t, created.Secret, 64)

	rec = s.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, "tenant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Secret)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = s.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, "tenant-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/webhooks/"+created.ID+"/regenerate-secret", "tenant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rotated struct {
		Secret string `json:"secret"`
	}
	decode(t, rec, &rotated)
	assert.Len(t, rotated.Secret, 64)
	assert.NotEqual(t, created.Secret, rotated.Secret)

	rec = s.do(t, http.MethodPut, "/api/v1/webhooks/"+created.ID, "tenant-1", map[string]interface{}{"timeout_seconds": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID+"/health", "tenant-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/webhooks/"+created.ID, "tenant-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPublishedEventsCreateDeliveries(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodPost, "/api/v1/webhooks", "tenant-1", map[string]interface{}{
		"name":   "approvals",
		"url":    "https://hooks.example.com/approvals",
		"events": []string{"approval.requested"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, rec, &created)

	rec = s.do(t, http.MethodPost, "/api/v1/events", "tenant-1", map[string]interface{}{
		"event_type": "approval.requested",
		"event_id":   "appr-1",
		"data":       map[string]interface{}{"approver": "lead"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var published struct {
		WebhookCount int `json:"webhook_count"`
	}
	decode(t, rec, &published)
	assert.Equal(t, 1, published.WebhookCount)

	rec = s.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID+"/deliveries?status=pending", "tenant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deliveries struct {
		Deliveries []struct {
			EventID string `json:"event_id"`
		} `json:"deliveries"`
	}
	decode(t, rec, &deliveries)
	require.Len(t, deliveries.Deliveries, 1)
	assert.Equal(t, "appr-1", deliveries.Deliveries[0].EventID)

	rec = s.do(t, http.MethodGet, "/api/v1/events?event_type=approval.requested", "tenant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "appr-1")

	rec = s.do(t, http.MethodPost, "/api/v1/events", "tenant-1", map[string]interface{}{"event_type": "approval.maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCostSummaryValidatesGrouping(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodGet, "/api/v1/costs/summary?group_by=model&from=2026-10-01", "tenant-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/costs/summary?group_by=galaxy", "tenant-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/costs/summary?from=yesterday", "tenant-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPricingIsListed(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	rec := s.do(t, http.MethodGet, "/api/v1/pricing", "tenant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4o-mini")
}

func TestEventStreamDeliversTenantEvents(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set(api.HeaderTenantID, "tenant-1")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream?event_types=workflow.completed"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	/* Subscription happens after the upgrade completes */
	publish := func(tenant, eventType, eventID string) {
		rec := s.do(t, http.MethodPost, "/api/v1/events", tenant, map[string]interface{}{
			"event_type": eventType,
			"event_id":   eventID,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	time.Sleep(50 * time.Millisecond)
	publish("tenant-2", "workflow.completed", "other-tenant")
	publish("tenant-1", "workflow.started", "filtered-out")
	publish("tenant-1", "workflow.completed", "wanted")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env events.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "wanted", env.EventID)
	assert.Equal(t, "tenant-1", env.TenantID)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, api.AuthModeHeader)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/webhooks", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
