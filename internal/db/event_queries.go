/*-------------------------------------------------------------------------
 *
 * event_queries.go
 *    Database queries for the event log
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/event_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

/* Event log queries */
const (
	insertEventLogQuery = `
		INSERT INTO neurondb_ledger.event_log
		(id, tenant_id, user_id, event_type, event_id, source, payload, project_id, workflow_id, webhook_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)`

	updateEventWebhookCountQuery = `UPDATE neurondb_ledger.event_log SET webhook_count = $2 WHERE id = $1`

	listEventLogQuery = `
		SELECT * FROM neurondb_ledger.event_log
		WHERE tenant_id = $1 AND ($2::text IS NULL OR event_type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
)

/* EventFilter selects event log entries */
type EventFilter struct {
	TenantID  string
	EventType *string
	Limit     int
	Offset    int
}

/* InsertEventLog appends an event to the log */
func (q *Queries) InsertEventLog(ctx context.Context, e *EventLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := q.ext.ExecContext(ctx, insertEventLogQuery,
		e.ID, e.TenantID, e.UserID, e.EventType, e.EventID, e.Source, e.Payload, e.ProjectID, e.WorkflowID, e.CreatedAt); err != nil {
		return q.formatQueryError("INSERT", insertEventLogQuery, 10, "neurondb_ledger.event_log", err)
	}
	return nil
}

/* UpdateEventWebhookCount sets the fan-out width of a logged event */
func (q *Queries) UpdateEventWebhookCount(ctx context.Context, id uuid.UUID, count int) error {
	if _, err := q.ext.ExecContext(ctx, updateEventWebhookCountQuery, id, count); err != nil {
		return q.formatQueryError("UPDATE", updateEventWebhookCountQuery, 2, "neurondb_ledger.event_log", err)
	}
	return nil
}

/* ListEventLog lists a tenant's events, newest first */
func (q *Queries) ListEventLog(ctx context.Context, f EventFilter) ([]EventLogEntry, error) {
	var entries []EventLogEntry
	if err := sqlx.SelectContext(ctx, q.ext, &entries, listEventLogQuery, f.TenantID, f.EventType, f.Limit, f.Offset); err != nil {
		return nil, q.formatQueryError("SELECT", listEventLogQuery, 4, "neurondb_ledger.event_log", err)
	}
	return entries, nil
}
