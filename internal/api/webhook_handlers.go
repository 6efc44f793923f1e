/*-------------------------------------------------------------------------
 *
 * webhook_handlers.go
 *    API handlers for webhooks
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/webhook_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"

	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

/* ListWebhooks lists the tenant's webhooks */
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	isActive, ok := queryBool(w, r, "is_active")
	if !ok {
		return
	}

	list, err := h.registry.List(r.Context(), p.TenantID, isActive, limit, offset)
	if err != nil {
		respondError(w, serviceError(r, "webhook listing failed", err))
		return
	}
	respondJSON(w, http.StatusOK, list)
}

/* CreateWebhook registers a webhook; the response is the only time the secret is shown */
func (h *Handlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in webhooks.CreateWebhookInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.TenantID = p.TenantID
	in.UserID = p.UserID

	created, err := h.registry.Create(r.Context(), in)
	if err != nil {
		respondError(w, serviceError(r, "webhook creation failed", err))
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

/* GetWebhook gets a webhook by ID */
func (h *Handlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	webhook, found, err := h.registry.Get(r.Context(), id, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "webhook lookup failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "webhook"))
		return
	}
	respondJSON(w, http.StatusOK, webhook)
}

/* UpdateWebhook applies a sparse update */
func (h *Handlers) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in webhooks.UpdateWebhookInput
	if !decodeBody(w, r, &in) {
		return
	}

	webhook, found, err := h.registry.Update(r.Context(), id, p.TenantID, in)
	if err != nil {
		respondError(w, serviceError(r, "webhook update failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "webhook"))
		return
	}
	respondJSON(w, http.StatusOK, webhook)
}

/* DeleteWebhook deletes a webhook and its deliveries */
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	deleted, err := h.registry.Delete(r.Context(), id, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "webhook deletion failed", err))
		return
	}
	if !deleted {
		respondError(w, notFound(r, "webhook"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* RegenerateWebhookSecret rotates the signing secret */
func (h *Handlers) RegenerateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	secret, found, err := h.registry.RegenerateSecret(r.Context(), id, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "webhook secret rotation failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "webhook"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "secret": secret})
}

/* GetWebhookHealth returns delivery counters and queue depth */
func (h *Handlers) GetWebhookHealth(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	health, found, err := h.registry.Health(r.Context(), id, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "webhook health lookup failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "webhook"))
		return
	}
	respondJSON(w, http.StatusOK, health)
}

/* ListWebhookDeliveries lists deliveries for a webhook */
func (h *Handlers) ListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	deliveries, found, err := h.registry.ListDeliveries(r.Context(), id, p.TenantID, queryString(r, "status"), limit, offset)
	if err != nil {
		respondError(w, serviceError(r, "webhook delivery listing failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "webhook"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

/* RedeliverWebhookDelivery re-arms a failed delivery */
func (h *Handlers) RedeliverWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	deliveryID, ok := pathUUID(w, r, "delivery_id")
	if !ok {
		return
	}

	delivery, found, err := h.registry.Redeliver(r.Context(), id, deliveryID, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "webhook redelivery failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "failed delivery"))
		return
	}
	respondJSON(w, http.StatusAccepted, delivery)
}
