/*-------------------------------------------------------------------------
 *
 * router.go
 *    Route table for the NeuronLedger API
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/router.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/neurondb/NeuronLedger/internal/metrics"
)

/* RouterOptions configures NewRouter */
type RouterOptions struct {
	Authenticator *Authenticator
	CORSOrigins   []string
}

/* NewRouter builds the full HTTP handler */
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	router.Use(RecoveryMiddleware, TracingMiddleware, LoggingMiddleware)

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(AuthMiddleware(opts.Authenticator))

	v1.HandleFunc("/executions", h.RecordExecution).Methods(http.MethodPost)
	v1.HandleFunc("/executions/{task_id}", h.GetExecution).Methods(http.MethodGet)
	v1.HandleFunc("/costs/summary", h.GetCostSummary).Methods(http.MethodGet)

	v1.HandleFunc("/budgets", h.ListBudgets).Methods(http.MethodGet)
	v1.HandleFunc("/budgets", h.CreateBudget).Methods(http.MethodPost)
	v1.HandleFunc("/budgets/{id}", h.GetBudget).Methods(http.MethodGet)
	v1.HandleFunc("/budgets/{id}", h.DeactivateBudget).Methods(http.MethodDelete)
	v1.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/acknowledge", h.AcknowledgeAlert).Methods(http.MethodPost)

	v1.HandleFunc("/webhooks", h.ListWebhooks).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks", h.CreateWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}", h.GetWebhook).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", h.UpdateWebhook).Methods(http.MethodPut)
	v1.HandleFunc("/webhooks/{id}", h.DeleteWebhook).Methods(http.MethodDelete)
	v1.HandleFunc("/webhooks/{id}/regenerate-secret", h.RegenerateWebhookSecret).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}/health", h.GetWebhookHealth).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}/deliveries", h.ListWebhookDeliveries).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}/deliveries/{delivery_id}/redeliver", h.RedeliverWebhookDelivery).Methods(http.MethodPost)

	v1.HandleFunc("/events", h.ListEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events", h.PublishEvent).Methods(http.MethodPost)
	v1.HandleFunc("/events/stream", h.StreamEvents(streamUpgrader(opts.CORSOrigins))).Methods(http.MethodGet)

	v1.HandleFunc("/pricing", h.ListPricing).Methods(http.MethodGet)
	v1.HandleFunc("/pricing/refresh", h.RefreshPricing).Methods(http.MethodPost)

	/* Preflight requests never reach the router */
	return RequestIDMiddleware(CORSMiddleware(opts.CORSOrigins)(router))
}

/* streamUpgrader accepts same-origin requests and the configured CORS origins */
func streamUpgrader(origins []string) *websocket.Upgrader {
	allowed := cors.New(cors.Options{AllowedOrigins: origins})
	return &websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
				return true
			}
			return allowed.OriginAllowed(r)
		},
	}
}
