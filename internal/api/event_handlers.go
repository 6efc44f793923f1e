/*-------------------------------------------------------------------------
 *
 * event_handlers.go
 *    Event log, publication and live event stream
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/api/event_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	streamBuffer   = 256
)

/* ListEvents returns the tenant's event log */
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	entries, err := h.dispatcher.ListEvents(r.Context(), p.TenantID, queryString(r, "event_type"), limit, offset)
	if err != nil {
		respondError(w, serviceError(r, "event listing failed", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

/* PublishEvent publishes an event for the caller's tenant */
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req events.PublishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TenantID = p.TenantID
	if req.UserID == nil && p.UserID != "" {
		userID := p.UserID
		req.UserID = &userID
	}

	count, err := h.dispatcher.Publish(r.Context(), req)
	if err != nil {
		respondError(w, serviceError(r, "event publish failed", err))
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_type":    req.EventType,
		"webhook_count": count,
	})
}

/*
 * StreamEvents upgrades to a websocket and forwards the tenant's events as
 * they are published. event_types narrows the stream to a comma-separated
 * list. Slow clients lose events rather than stall publishers.
 */
func (h *Handlers) StreamEvents(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		broker := h.dispatcher.Broker()
		if broker == nil {
			respondError(w, WrapError(NewError(http.StatusServiceUnavailable, "event stream is not enabled", nil), GetRequestID(r.Context())))
			return
		}

		filter := map[events.EventType]bool{}
		if raw := r.URL.Query().Get("event_types"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				et, err := events.ParseEventType(strings.TrimSpace(s))
				if err != nil {
					respondError(w, serviceError(r, "invalid event_types", err))
					return
				}
				filter[et] = true
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			metrics.WarnWithContext(r.Context(), "WebSocket upgrade failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		defer conn.Close()

		ch, unsubscribe := broker.Subscribe(p.TenantID, streamBuffer)
		defer unsubscribe()

		metrics.InfoWithContext(r.Context(), "Event stream opened", nil)

		/* The read loop only services control frames and detects disconnect */
		done := make(chan struct{})
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case env, open := <-ch:
				if !open {
					return
				}
				if len(filter) > 0 && !filter[env.EventType] {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
