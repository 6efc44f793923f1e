/*-------------------------------------------------------------------------
 *
 * execution_handlers.go
 *    Task completion intake
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/execution_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/events"
)

/* ExecutionRequest reports a finished task */
type ExecutionRequest struct {
	cost.ExecutionInput
	Citations []interface{} `json:"citations,omitempty"`
	Error     string        `json:"error,omitempty"`
}

/* ExecutionResponse acknowledges a task report; Cost is nil when tracking failed */
type ExecutionResponse struct {
	TaskID string           `json:"task_id"`
	Status string           `json:"status"`
	Cost   *cost.CostRecord `json:"cost"`
}

/*
 * RecordExecution records a task's cost best-effort and publishes
 * task.completed or task.failed. Cost tracking failures never fail the
 * request; the task outcome is the caller's, not the ledger's.
 */
func (h *Handlers) RecordExecution(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req ExecutionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TenantID = p.TenantID
	if p.UserID != "" {
		req.UserID = p.UserID
	}
	if err := req.Validate(); err != nil {
		respondError(w, serviceError(r, "invalid execution", err))
		return
	}

	rec := h.tracker.RecordBestEffort(r.Context(), req.ExecutionInput)
	if rec == nil || !rec.Duplicate {
		h.dispatcher.PublishAsync(r.Context(), taskEvent(&req, rec), eventPublishTimeout)
	}

	respondJSON(w, http.StatusOK, ExecutionResponse{TaskID: req.TaskID, Status: req.Status, Cost: rec})
}

func taskEvent(req *ExecutionRequest, rec *cost.CostRecord) events.PublishRequest {
	eventType := events.EventTaskCompleted
	if req.Status == db.ExecutionFailed {
		eventType = events.EventTaskFailed
	}

	data := map[string]interface{}{
		"task_id":        req.TaskID,
		"agent_name":     req.AgentName,
		"model_provider": req.ModelProvider,
		"model_name":     req.ModelName,
		"input_tokens":   req.InputTokens,
		"output_tokens":  req.OutputTokens,
		"total_tokens":   req.InputTokens + req.OutputTokens,
		"latency_ms":     req.LatencyMS,
	}
	if len(req.Citations) > 0 {
		data["citations"] = req.Citations
	}
	if req.Error != "" {
		data["error"] = req.Error
	}
	if rec != nil {
		data["cost_usd"] = rec.TotalCostUSD.String()
		if rec.BudgetStatus != nil {
			data["within_budget"] = rec.BudgetStatus.WithinBudget
		}
	}

	userID := req.UserID
	return events.PublishRequest{
		EventType:  eventType,
		EventID:    req.TaskID,
		Source:     req.AgentName,
		TenantID:   req.TenantID,
		UserID:     &userID,
		ProjectID:  req.ProjectID,
		WorkflowID: req.WorkflowID,
		Data:       data,
	}
}

/* GetExecution returns the recorded execution for a task */
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["task_id"]
	rec, found, err := h.tracker.GetExecution(r.Context(), taskID, p.TenantID)
	if err != nil {
		respondError(w, serviceError(r, "execution lookup failed", err))
		return
	}
	if !found {
		respondError(w, notFound(r, "execution"))
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
