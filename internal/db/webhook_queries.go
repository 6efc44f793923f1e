/*-------------------------------------------------------------------------
 *
 * webhook_queries.go
 *    Database queries for webhook subscriptions
 *
 * Every tenant-facing statement filters on (id, tenant_id) so a webhook
 * belonging to another tenant is indistinguishable from a missing one.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/webhook_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

/* Webhook queries */
const (
	createWebhookQuery = `
		INSERT INTO neurondb_ledger.webhooks
		(id, tenant_id, user_id, name, url, description, events, project_filter, workflow_filter, secret_key,
		 max_retries, retry_delay_seconds, timeout_seconds, custom_headers, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	getWebhookQuery = `SELECT * FROM neurondb_ledger.webhooks WHERE id = $1 AND tenant_id = $2`

	getWebhookByIDQuery = `SELECT * FROM neurondb_ledger.webhooks WHERE id = $1`

	listWebhooksQuery = `
		SELECT * FROM neurondb_ledger.webhooks
		WHERE tenant_id = $1 AND ($2::boolean IS NULL OR is_active = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	countWebhooksQuery = `
		SELECT COUNT(*) FROM neurondb_ledger.webhooks
		WHERE tenant_id = $1 AND ($2::boolean IS NULL OR is_active = $2)`

	updateWebhookQuery = `
		UPDATE neurondb_ledger.webhooks
		SET name = $3, url = $4, description = $5, events = $6, project_filter = $7, workflow_filter = $8,
		    max_retries = $9, retry_delay_seconds = $10, timeout_seconds = $11, custom_headers = $12,
		    is_active = $13, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at`

	deleteWebhookQuery = `DELETE FROM neurondb_ledger.webhooks WHERE id = $1 AND tenant_id = $2`

	updateWebhookSecretQuery = `
		UPDATE neurondb_ledger.webhooks
		SET secret_key = $3, is_verified = FALSE, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`

	recordWebhookResultQuery = `
		UPDATE neurondb_ledger.webhooks
		SET total_deliveries = total_deliveries + 1,
		    successful_deliveries = successful_deliveries + CASE WHEN $2 THEN 1 ELSE 0 END,
		    failed_deliveries = failed_deliveries + CASE WHEN $2 THEN 0 ELSE 1 END,
		    is_verified = is_verified OR $2,
		    last_triggered_at = $3
		WHERE id = $1`

	getWebhooksForEventQuery = `SELECT * FROM neurondb_ledger.get_webhooks_for_event($1, $2, $3, $4)`

	getWebhookHealthQuery = `
		SELECT w.id AS webhook_id, w.name, w.url, w.is_active, w.is_verified,
		       w.total_deliveries, w.successful_deliveries, w.failed_deliveries, w.last_triggered_at,
		       COUNT(d.id) FILTER (WHERE d.status = 'pending') AS pending_count,
		       COUNT(d.id) FILTER (WHERE d.status = 'retrying') AS retrying_count,
		       COUNT(d.id) FILTER (WHERE d.status = 'failed' AND d.updated_at >= $3) AS recent_failed_count
		FROM neurondb_ledger.webhooks w
		LEFT JOIN neurondb_ledger.webhook_deliveries d ON d.webhook_id = w.id
		WHERE w.id = $1 AND w.tenant_id = $2
		GROUP BY w.id`
)

/* WebhookFilter selects webhooks for listing */
type WebhookFilter struct {
	TenantID string
	IsActive *bool
	Limit    int
	Offset   int
}

/* CreateWebhook inserts a webhook */
func (q *Queries) CreateWebhook(ctx context.Context, w *Webhook) error {
	if w.CustomHeaders == nil {
		w.CustomHeaders = StringMap{}
	}
	err := q.ext.QueryRowxContext(ctx, createWebhookQuery,
		w.ID, w.TenantID, w.UserID, w.Name, w.URL, w.Description, w.Events, w.ProjectFilter, w.WorkflowFilter,
		w.SecretKey, w.MaxRetries, w.RetryDelaySeconds, w.TimeoutSeconds, w.CustomHeaders, w.IsActive,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return q.formatQueryError("INSERT", createWebhookQuery, 15, "neurondb_ledger.webhooks", err)
	}
	return nil
}

/* GetWebhook returns a tenant's webhook, or nil when absent */
func (q *Queries) GetWebhook(ctx context.Context, id uuid.UUID, tenantID string) (*Webhook, error) {
	var w Webhook
	err := sqlx.GetContext(ctx, q.ext, &w, getWebhookQuery, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("webhook lookup failed on %s: query='%s', webhook_id='%s', table='neurondb_ledger.webhooks', error=%w",
			q.getConnInfoString(), getWebhookQuery, id.String(), err)
	}
	return &w, nil
}

/* GetWebhookByID returns a webhook regardless of tenant, for internal delivery use */
func (q *Queries) GetWebhookByID(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	var w Webhook
	err := sqlx.GetContext(ctx, q.ext, &w, getWebhookByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("webhook lookup failed on %s: query='%s', webhook_id='%s', table='neurondb_ledger.webhooks', error=%w",
			q.getConnInfoString(), getWebhookByIDQuery, id.String(), err)
	}
	return &w, nil
}

/* ListWebhooks lists a tenant's webhooks newest first, with the unpaginated total */
func (q *Queries) ListWebhooks(ctx context.Context, f WebhookFilter) ([]Webhook, int, error) {
	var webhooks []Webhook
	if err := sqlx.SelectContext(ctx, q.ext, &webhooks, listWebhooksQuery, f.TenantID, f.IsActive, f.Limit, f.Offset); err != nil {
		return nil, 0, q.formatQueryError("SELECT", listWebhooksQuery, 4, "neurondb_ledger.webhooks", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, countWebhooksQuery, f.TenantID, f.IsActive); err != nil {
		return nil, 0, q.formatQueryError("SELECT", countWebhooksQuery, 2, "neurondb_ledger.webhooks", err)
	}
	return webhooks, total, nil
}

/* UpdateWebhook writes the mutable fields of w; reports whether the webhook exists for the tenant */
func (q *Queries) UpdateWebhook(ctx context.Context, w *Webhook) (bool, error) {
	err := q.ext.QueryRowxContext(ctx, updateWebhookQuery,
		w.ID, w.TenantID, w.Name, w.URL, w.Description, w.Events, w.ProjectFilter, w.WorkflowFilter,
		w.MaxRetries, w.RetryDelaySeconds, w.TimeoutSeconds, w.CustomHeaders, w.IsActive,
	).Scan(&w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, q.formatQueryError("UPDATE", updateWebhookQuery, 13, "neurondb_ledger.webhooks", err)
	}
	return true, nil
}

/* DeleteWebhook removes a webhook and, by cascade, its deliveries */
func (q *Queries) DeleteWebhook(ctx context.Context, id uuid.UUID, tenantID string) (bool, error) {
	res, err := q.ext.ExecContext(ctx, deleteWebhookQuery, id, tenantID)
	if err != nil {
		return false, q.formatQueryError("DELETE", deleteWebhookQuery, 2, "neurondb_ledger.webhooks", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

/* UpdateWebhookSecret replaces the signing secret */
func (q *Queries) UpdateWebhookSecret(ctx context.Context, id uuid.UUID, tenantID, secret string) (bool, error) {
	res, err := q.ext.ExecContext(ctx, updateWebhookSecretQuery, id, tenantID, secret)
	if err != nil {
		return false, q.formatQueryError("UPDATE", updateWebhookSecretQuery, 3, "neurondb_ledger.webhooks", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

/* RecordWebhookResult atomically bumps the delivery counters of a webhook */
func (q *Queries) RecordWebhookResult(ctx context.Context, id uuid.UUID, success bool, at time.Time) error {
	if _, err := q.ext.ExecContext(ctx, recordWebhookResultQuery, id, success, at); err != nil {
		return q.formatQueryError("UPDATE", recordWebhookResultQuery, 3, "neurondb_ledger.webhooks", err)
	}
	return nil
}

/* GetWebhooksForEvent returns the active subscriptions matching an event */
func (q *Queries) GetWebhooksForEvent(ctx context.Context, tenantID, eventType string, projectID, workflowID *string) ([]Webhook, error) {
	var webhooks []Webhook
	if err := sqlx.SelectContext(ctx, q.ext, &webhooks, getWebhooksForEventQuery, tenantID, eventType, projectID, workflowID); err != nil {
		return nil, q.formatQueryError("SELECT", getWebhooksForEventQuery, 4, "neurondb_ledger.webhooks", err)
	}
	return webhooks, nil
}

/* GetWebhookHealth returns counters and queue depth, or nil when the webhook is absent */
func (q *Queries) GetWebhookHealth(ctx context.Context, id uuid.UUID, tenantID string, failedSince time.Time) (*WebhookHealth, error) {
	var h WebhookHealth
	err := sqlx.GetContext(ctx, q.ext, &h, getWebhookHealthQuery, id, tenantID, failedSince)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, q.formatQueryError("SELECT", getWebhookHealthQuery, 3, "neurondb_ledger.webhooks", err)
	}
	return &h, nil
}
