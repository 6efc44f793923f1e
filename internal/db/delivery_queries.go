/*-------------------------------------------------------------------------
 *
 * delivery_queries.go
 *    Database queries for webhook deliveries
 *
 * Deliveries move pending -> retrying -> delivered | failed. Retries are
 * durable: a retrying row carries next_retry_at and is picked up by the
 * periodic sweep, which claims rows with FOR UPDATE SKIP LOCKED and a lease
 * so concurrent sweepers never attempt the same delivery together.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/delivery_queries.go
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

/* Delivery queries */
const (
	createDeliveryQuery = `
		INSERT INTO neurondb_ledger.webhook_deliveries
		(id, webhook_id, tenant_id, event_type, event_id, payload, status, attempts, max_attempts, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	getDeliveryQuery = `SELECT * FROM neurondb_ledger.webhook_deliveries WHERE id = $1`

	getTenantDeliveryQuery = `
		SELECT * FROM neurondb_ledger.webhook_deliveries
		WHERE id = $1 AND webhook_id = $2 AND tenant_id = $3`

	listDeliveriesQuery = `
		SELECT * FROM neurondb_ledger.webhook_deliveries
		WHERE webhook_id = $1 AND tenant_id = $2 AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	beginAttemptQuery = `
		UPDATE neurondb_ledger.webhook_deliveries
		SET attempts = attempts + 1, claimed_until = $2, claim_token = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')
		  AND attempts < max_attempts
		  AND (claimed_until IS NULL OR claimed_until < $4 OR claim_token = $3)
		RETURNING *`

	completeAttemptQuery = `
		UPDATE neurondb_ledger.webhook_deliveries
		SET status = $2,
		    delivered_at = CASE WHEN $2 = 'delivered' THEN $3::timestamptz ELSE delivered_at END,
		    http_status_code = $4,
		    response_body = $5,
		    response_headers = $6,
		    error_message = $7,
		    next_retry_at = NULL,
		    claimed_until = NULL,
		    updated_at = $3
		WHERE id = $1`

	scheduleRetryQuery = `
		UPDATE neurondb_ledger.webhook_deliveries
		SET status = 'retrying', next_retry_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'failed' AND attempts < max_attempts`

	parkDeliveryQuery = `
		UPDATE neurondb_ledger.webhook_deliveries
		SET status = 'retrying', next_retry_at = $2, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')`

	claimDueDeliveriesQuery = `
		WITH due AS (
			SELECT d.id
			FROM neurondb_ledger.webhook_deliveries d
			JOIN neurondb_ledger.webhooks w ON w.id = d.webhook_id
			WHERE w.is_active
			  AND ((d.status = 'retrying' AND d.next_retry_at <= $1)
			       OR (d.status = 'pending' AND d.scheduled_at <= $3))
			  AND (d.claimed_until IS NULL OR d.claimed_until < $1)
			ORDER BY COALESCE(d.next_retry_at, d.scheduled_at)
			LIMIT $4
			FOR UPDATE OF d SKIP LOCKED
		)
		UPDATE neurondb_ledger.webhook_deliveries d
		SET claimed_until = $2, claim_token = $5, updated_at = NOW()
		FROM due
		WHERE d.id = due.id
		RETURNING d.*`

	redeliverQuery = `
		UPDATE neurondb_ledger.webhook_deliveries
		SET status = 'retrying', next_retry_at = $3, max_attempts = attempts + 1,
		    claimed_until = NULL, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status = 'failed'
		RETURNING *`
)

/* DeliveryFilter selects a webhook's deliveries for listing */
type DeliveryFilter struct {
	WebhookID uuid.UUID
	TenantID  string
	Status    *string
	Limit     int
	Offset    int
}

/* CreateWebhookDelivery inserts a delivery record */
func (q *Queries) CreateWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	if d.ScheduledAt.IsZero() {
		d.ScheduledAt = time.Now().UTC()
	}
	err := q.ext.QueryRowxContext(ctx, createDeliveryQuery,
		d.ID, d.WebhookID, d.TenantID, d.EventType, d.EventID, d.Payload, d.Status, d.Attempts, d.MaxAttempts, d.ScheduledAt,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return q.formatQueryError("INSERT", createDeliveryQuery, 10, "neurondb_ledger.webhook_deliveries", err)
	}
	return nil
}

/* GetDelivery returns a delivery by id, or nil when absent */
func (q *Queries) GetDelivery(ctx context.Context, id uuid.UUID) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := sqlx.GetContext(ctx, q.ext, &d, getDeliveryQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery lookup failed on %s: query='%s', delivery_id='%s', table='neurondb_ledger.webhook_deliveries', error=%w",
			q.getConnInfoString(), getDeliveryQuery, id.String(), err)
	}
	return &d, nil
}

/* GetTenantDelivery returns a delivery scoped to webhook and tenant, or nil when absent */
func (q *Queries) GetTenantDelivery(ctx context.Context, id, webhookID uuid.UUID, tenantID string) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := sqlx.GetContext(ctx, q.ext, &d, getTenantDeliveryQuery, id, webhookID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, q.formatQueryError("SELECT", getTenantDeliveryQuery, 3, "neurondb_ledger.webhook_deliveries", err)
	}
	return &d, nil
}

/* ListWebhookDeliveries lists a webhook's delivery history, newest first */
func (q *Queries) ListWebhookDeliveries(ctx context.Context, f DeliveryFilter) ([]WebhookDelivery, error) {
	var deliveries []WebhookDelivery
	if err := sqlx.SelectContext(ctx, q.ext, &deliveries, listDeliveriesQuery, f.WebhookID, f.TenantID, f.Status, f.Limit, f.Offset); err != nil {
		return nil, q.formatQueryError("SELECT", listDeliveriesQuery, 5, "neurondb_ledger.webhook_deliveries", err)
	}
	return deliveries, nil
}

/*
 * BeginDeliveryAttempt increments attempts and takes the lease for claim.
 * It returns nil when the delivery is no longer pending or retrying, has used
 * all its attempts, or is leased to another worker.
 */
func (q *Queries) BeginDeliveryAttempt(ctx context.Context, id uuid.UUID, claim DeliveryClaim) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := sqlx.GetContext(ctx, q.ext, &d, beginAttemptQuery, id, claim.Until, claim.Token, claim.Now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, q.formatQueryError("UPDATE", beginAttemptQuery, 4, "neurondb_ledger.webhook_deliveries", err)
	}
	return &d, nil
}

/* CompleteDeliveryAttempt stores the outcome of an attempt as delivered or failed */
func (q *Queries) CompleteDeliveryAttempt(ctx context.Context, id uuid.UUID, out DeliveryOutcome) error {
	status := DeliveryFailed
	if out.Success {
		status = DeliveryDelivered
	}
	headers := out.ResponseHeaders
	if headers == nil {
		headers = StringMap{}
	}
	if _, err := q.ext.ExecContext(ctx, completeAttemptQuery, id, status, out.At,
		out.HTTPStatusCode, out.ResponseBody, headers, out.ErrorMessage); err != nil {
		return q.formatQueryError("UPDATE", completeAttemptQuery, 7, "neurondb_ledger.webhook_deliveries", err)
	}
	return nil
}

/* ScheduleDeliveryRetry moves a failed delivery with attempts left to retrying; reports whether it did */
func (q *Queries) ScheduleDeliveryRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) (bool, error) {
	res, err := q.ext.ExecContext(ctx, scheduleRetryQuery, id, nextRetryAt)
	if err != nil {
		return false, q.formatQueryError("UPDATE", scheduleRetryQuery, 2, "neurondb_ledger.webhook_deliveries", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

/* ParkDelivery hands a not-yet-attempted delivery to the retry sweep */
func (q *Queries) ParkDelivery(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := q.ext.ExecContext(ctx, parkDeliveryQuery, id, at); err != nil {
		return q.formatQueryError("UPDATE", parkDeliveryQuery, 2, "neurondb_ledger.webhook_deliveries", err)
	}
	return nil
}

/*
 * ClaimDueDeliveries leases up to limit deliveries of active webhooks to claim that
 * are due: retrying rows whose next_retry_at has passed and pending rows
 * scheduled before pendingBefore that were never picked up.
 */
func (q *Queries) ClaimDueDeliveries(ctx context.Context, claim DeliveryClaim, pendingBefore time.Time, limit int) ([]WebhookDelivery, error) {
	var deliveries []WebhookDelivery
	if err := sqlx.SelectContext(ctx, q.ext, &deliveries, claimDueDeliveriesQuery, claim.Now, claim.Until, pendingBefore, limit, claim.Token); err != nil {
		return nil, q.formatQueryError("UPDATE", claimDueDeliveriesQuery, 5, "neurondb_ledger.webhook_deliveries", err)
	}
	return deliveries, nil
}

/* RedeliverDelivery re-arms a terminally failed delivery for one more attempt, or returns nil when not eligible */
func (q *Queries) RedeliverDelivery(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := sqlx.GetContext(ctx, q.ext, &d, redeliverQuery, id, tenantID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, q.formatQueryError("UPDATE", redeliverQuery, 3, "neurondb_ledger.webhook_deliveries", err)
	}
	return &d, nil
}
