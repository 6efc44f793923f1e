/*-------------------------------------------------------------------------
 *
 * handlers.go
 *    HTTP handlers for the NeuronLedger API
 *
 * Handlers stay thin: they resolve the caller's tenant, decode input and
 * hand off to the cost tracker, event dispatcher and webhook registry.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/pricing"
	"github.com/neurondb/NeuronLedger/internal/validation"
	"github.com/neurondb/NeuronLedger/internal/webhooks"
	"github.com/neurondb/NeuronLedger/internal/utils"
)

const (
	maxBodyBytes        = 1 << 20
	eventPublishTimeout = 30 * time.Second
)

/* HealthChecker reports whether a dependency is usable */
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

/* Handlers serves the ledger API */
type Handlers struct {
	tracker    *cost.Tracker
	dispatcher *events.Dispatcher
	registry   *webhooks.Registry
	calculator *pricing.Calculator
	health     HealthChecker
	version    string
}

/* NewHandlers creates handlers; health may be nil */
func NewHandlers(tracker *cost.Tracker, dispatcher *events.Dispatcher, registry *webhooks.Registry,
	calculator *pricing.Calculator, health HealthChecker, version string) *Handlers {
	return &Handlers{
		tracker:    tracker,
		dispatcher: dispatcher,
		registry:   registry,
		calculator: calculator,
		health:     health,
		version:    version,
	}
}

/* Health reports liveness and database reachability */
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.HealthCheck(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = "unavailable"
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	respondJSON(w, http.StatusOK, status)
}

/* ListPricing returns the active pricing table */
func (h *Handlers) ListPricing(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"prices": h.calculator.Prices()})
}

/* RefreshPricing reloads the pricing table from the database */
func (h *Handlers) RefreshPricing(w http.ResponseWriter, r *http.Request) {
	if err := h.calculator.Refresh(r.Context()); err != nil {
		respondError(w, serviceError(r, "pricing refresh failed", err))
		return
	}
	prices := h.calculator.Prices()
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": len(prices), "prices": prices})
}

/* principal returns the caller; AuthMiddleware guarantees it on API routes */
func principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, WrapError(ErrUnauthorized, GetRequestID(r.Context())))
	}
	return p, ok
}

/* decodeBody reads a size-limited JSON body into v, rejecting unknown fields */
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := validation.ReadAndValidateBody(r, maxBodyBytes)
	if err != nil {
		respondError(w, serviceError(r, "invalid request body", err))
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, badRequest(r, "invalid request body", err))
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := utils.ParseUUID(name, mux.Vars(r)[name])
	if err != nil {
		respondError(w, badRequest(r, "invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

/* pagination reads limit and offset; 0 means the service default */
func pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return 0, 0, false
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return 0, 0, false
	}
	return limit, offset, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, badRequest(r, "invalid "+name, err))
		return 0, false
	}
	return v, true
}

func queryBool(w http.ResponseWriter, r *http.Request, name string) (*bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		respondError(w, badRequest(r, "invalid "+name, err))
		return nil, false
	}
	return &v, true
}

func queryString(r *http.Request, name string) *string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	return &raw
}

/* queryTime parses an RFC 3339 timestamp or a YYYY-MM-DD date */
func queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse(time.DateOnly, raw)
	}
	if err != nil {
		respondError(w, badRequest(r, "invalid "+name+", expected RFC 3339 or YYYY-MM-DD", err))
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
