/*-------------------------------------------------------------------------
 *
 * budget_handlers.go
 *    Budgets, alerts and cost reports
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/budget_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/utils"
)

/* GetCostSummary reports cost grouped by agent, project, workflow, user, day or model */
func (h *Handlers) GetCostSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	from, ok := queryTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return
	}

	summary, err := h.tracker.GetCostSummary(r.Context(), p.TenantID, r.URL.Query().Get("group_by"), from, to)
	if err != nil {
		respondError(w, serviceError(r, "cost summary failed", err))
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

/* ListBudgets lists the tenant's budgets */
func (h *Handlers) ListBudgets(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	isActive, ok := queryBool(w, r, "is_active")
	if !ok {
		return
	}

	budgets, err := h.tracker.GetBudgets(r.Context(), cost.BudgetQuery{
		OwnerTenantID: p.TenantID,
		IsActive:      isActive,
		UserID:        queryString(r, "user_id"),
		ProjectID:     queryString(r, "project_id"),
	})
	if err != nil {
		respondError(w, serviceError(r, "budget listing failed", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"budgets": budgets})
}

/* CreateBudget creates a budget for one tenant, user or project */
func (h *Handlers) CreateBudget(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in cost.CreateBudgetInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.OwnerTenantID = p.TenantID

	b, err := h.tracker.CreateBudget(r.Context(), in)
	if err != nil {
		respondError(w, serviceError(r, "budget creation failed", err))
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

/* GetBudget returns one budget with its utilization */
func (h *Handlers) GetBudget(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	b, found, err := h.tracker.GetBudget(r.Context(), id, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "budget lookup failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "budget"))
		return
	}
	respondJSON(w, http.StatusOK, b)
}

/* DeactivateBudget stops charging a budget */
func (h *Handlers) DeactivateBudget(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	deactivated, err := h.tracker.DeactivateBudget(r.Context(), id, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "budget deactivation failed", err))
		return
	}
	if !deactivated {
		respondError(w, notFound(r, "active budget"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ListAlerts lists budget alerts, optionally by budget and acknowledgement */
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	acknowledged, ok := queryBool(w, r, "acknowledged")
	if !ok {
		return
	}
	var budgetID *uuid.UUID
	if raw := r.URL.Query().Get("budget_id"); raw != "" {
		id, err := utils.ParseUUID("budget_id", raw)
		if err != nil {
			respondError(w, badRequest(r, "invalid budget_id", err))
			return
		}
		budgetID = &id
	}

	alerts, err := h.tracker.GetAlerts(r.Context(), cost.AlertQuery{
		OwnerTenantID: p.TenantID,
		BudgetID:      budgetID,
		Acknowledged:  acknowledged,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		respondError(w, serviceError(r, "alert listing failed", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

/* AcknowledgeAlert marks an alert as seen by the caller */
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	by := p.UserID
	if by == "" {
		var body struct {
			AcknowledgedBy string `json:"acknowledged_by"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &body) {
			return
		}
		by = body.AcknowledgedBy
	}

	alert, found, err := h.tracker.AcknowledgeAlert(r.Context(), id, p.TenantID, by)
	if err != nil {
		respondError(w, serviceError(r, "alert acknowledgement failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "alert"))
		return
	}
	respondJSON(w, http.StatusOK, alert)
}
