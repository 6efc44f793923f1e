/*-------------------------------------------------------------------------
 *
 * budget_queries.go
 *    Database queries for budgets and budget alerts
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/budget_queries.go
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
	"github.com/shopspring/decimal"
)

/* Budget queries */
const (
	createBudgetQuery = `
		INSERT INTO neurondb_ledger.budgets
		(id, owner_tenant_id, tenant_id, user_id, project_id, budget_type, budget_amount_usd, current_spend_usd,
		 alert_threshold_pct, critical_threshold_pct, is_active, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	getBudgetQuery = `SELECT * FROM neurondb_ledger.budgets WHERE id = $1 AND owner_tenant_id = $2`

	listBudgetsQuery = `
		SELECT * FROM neurondb_ledger.budgets
		WHERE owner_tenant_id = $1
		  AND ($2::boolean IS NULL OR is_active = $2)
		  AND ($3::text IS NULL OR user_id = $3)
		  AND ($4::text IS NULL OR project_id = $4)
		ORDER BY created_at DESC`

	deactivateBudgetQuery = `
		UPDATE neurondb_ledger.budgets
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND owner_tenant_id = $2 AND is_active`

	/* Single-statement read-modify-write; never read spend and write it back separately */
	incrementTenantBudgetsQuery = `
		UPDATE neurondb_ledger.budgets
		SET current_spend_usd = current_spend_usd + $1, updated_at = NOW()
		WHERE is_active AND owner_tenant_id = $2 AND tenant_id = $3
		RETURNING *`

	incrementUserBudgetsQuery = `
		UPDATE neurondb_ledger.budgets
		SET current_spend_usd = current_spend_usd + $1, updated_at = NOW()
		WHERE is_active AND owner_tenant_id = $2 AND user_id = $3
		RETURNING *`

	incrementProjectBudgetsQuery = `
		UPDATE neurondb_ledger.budgets
		SET current_spend_usd = current_spend_usd + $1, updated_at = NOW()
		WHERE is_active AND owner_tenant_id = $2 AND project_id = $3
		RETURNING *`

	listExpiredBudgetsQuery = `
		SELECT * FROM neurondb_ledger.budgets
		WHERE is_active AND period_end IS NOT NULL AND period_end <= $1
		ORDER BY period_end
		LIMIT $2`

	rollBudgetPeriodQuery = `
		UPDATE neurondb_ledger.budgets
		SET current_spend_usd = 0, period_start = $3, period_end = $4, updated_at = NOW()
		WHERE id = $1 AND period_end = $2`
)

/* Budget alert queries */
const (
	insertBudgetAlertQuery = `
		INSERT INTO neurondb_ledger.budget_alerts
		(id, budget_id, owner_tenant_id, alert_type, threshold_pct, current_spend_usd, budget_amount_usd,
		 period_start, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (budget_id, alert_type, period_start) DO NOTHING`

	listBudgetAlertsQuery = `
		SELECT * FROM neurondb_ledger.budget_alerts
		WHERE owner_tenant_id = $1
		  AND ($2::uuid IS NULL OR budget_id = $2)
		  AND ($3::boolean IS NULL OR is_acknowledged = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	acknowledgeBudgetAlertQuery = `
		UPDATE neurondb_ledger.budget_alerts
		SET is_acknowledged = TRUE,
		    acknowledged_by = $3,
		    acknowledged_at = COALESCE(acknowledged_at, NOW())
		WHERE id = $1 AND owner_tenant_id = $2
		RETURNING *`
)

var incrementBudgetQueries = map[string]string{
	ScopeTenant:  incrementTenantBudgetsQuery,
	ScopeUser:    incrementUserBudgetsQuery,
	ScopeProject: incrementProjectBudgetsQuery,
}

/* BudgetFilter selects budgets for listing */
type BudgetFilter struct {
	OwnerTenantID string
	IsActive      *bool
	UserID        *string
	ProjectID     *string
}

/* AlertFilter selects budget alerts for listing */
type AlertFilter struct {
	OwnerTenantID string
	BudgetID      *uuid.UUID
	Acknowledged  *bool
	Limit         int
	Offset        int
}

/* CreateBudget inserts a budget */
func (q *Queries) CreateBudget(ctx context.Context, b *Budget) error {
	err := q.ext.QueryRowxContext(ctx, createBudgetQuery,
		b.ID, b.OwnerTenantID, b.TenantID, b.UserID, b.ProjectID, b.BudgetType, b.BudgetAmountUSD, b.CurrentSpendUSD,
		b.AlertThresholdPct, b.CriticalThresholdPct, b.IsActive, b.PeriodStart, b.PeriodEnd,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return q.formatQueryError("INSERT", createBudgetQuery, 13, "neurondb_ledger.budgets", err)
	}
	return nil
}

/* GetBudget returns a budget owned by tenant, or nil when absent */
func (q *Queries) GetBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (*Budget, error) {
	var b Budget
	err := sqlx.GetContext(ctx, q.ext, &b, getBudgetQuery, id, ownerTenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("budget lookup failed on %s: query='%s', budget_id='%s', table='neurondb_ledger.budgets', error=%w",
			q.getConnInfoString(), getBudgetQuery, id.String(), err)
	}
	return &b, nil
}

/* ListBudgets lists budgets owned by a tenant */
func (q *Queries) ListBudgets(ctx context.Context, f BudgetFilter) ([]Budget, error) {
	var budgets []Budget
	if err := sqlx.SelectContext(ctx, q.ext, &budgets, listBudgetsQuery, f.OwnerTenantID, f.IsActive, f.UserID, f.ProjectID); err != nil {
		return nil, q.formatQueryError("SELECT", listBudgetsQuery, 4, "neurondb_ledger.budgets", err)
	}
	return budgets, nil
}

/* DeactivateBudget marks a budget inactive; reports whether an active budget was found */
func (q *Queries) DeactivateBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (bool, error) {
	res, err := q.ext.ExecContext(ctx, deactivateBudgetQuery, id, ownerTenantID)
	if err != nil {
		return false, q.formatQueryError("UPDATE", deactivateBudgetQuery, 2, "neurondb_ledger.budgets", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

/* IncrementBudgetSpend atomically adds amount to every active budget of the scope and returns the updated rows */
func (q *Queries) IncrementBudgetSpend(ctx context.Context, scope BudgetScope, amount decimal.Decimal) ([]Budget, error) {
	query, ok := incrementBudgetQueries[scope.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported budget scope: scope='%s'", scope.Kind)
	}

	var budgets []Budget
	if err := sqlx.SelectContext(ctx, q.ext, &budgets, query, amount, scope.OwnerTenantID, scope.Value); err != nil {
		return nil, q.formatQueryError("UPDATE", query, 3, "neurondb_ledger.budgets", err)
	}
	return budgets, nil
}

/* ListExpiredBudgets returns active periodic budgets whose period ended at or before now */
func (q *Queries) ListExpiredBudgets(ctx context.Context, now time.Time, limit int) ([]Budget, error) {
	var budgets []Budget
	if err := sqlx.SelectContext(ctx, q.ext, &budgets, listExpiredBudgetsQuery, now, limit); err != nil {
		return nil, q.formatQueryError("SELECT", listExpiredBudgetsQuery, 2, "neurondb_ledger.budgets", err)
	}
	return budgets, nil
}

/*
 * RollBudgetPeriod resets spend and moves the budget into a new period.
 * The update only applies if the stored period_end still equals
 * expectedEnd, so concurrent rollovers advance a budget once.
 */
func (q *Queries) RollBudgetPeriod(ctx context.Context, id uuid.UUID, expectedEnd, newStart time.Time, newEnd *time.Time) (bool, error) {
	res, err := q.ext.ExecContext(ctx, rollBudgetPeriodQuery, id, expectedEnd, newStart, newEnd)
	if err != nil {
		return false, q.formatQueryError("UPDATE", rollBudgetPeriodQuery, 4, "neurondb_ledger.budgets", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

/* InsertBudgetAlert stores an alert unless one of the same type exists for the period; reports whether it inserted */
func (q *Queries) InsertBudgetAlert(ctx context.Context, a *BudgetAlert) (bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := q.ext.ExecContext(ctx, insertBudgetAlertQuery,
		a.ID, a.BudgetID, a.OwnerTenantID, a.AlertType, a.ThresholdPct, a.CurrentSpendUSD, a.BudgetAmountUSD,
		a.PeriodStart, a.Message, a.CreatedAt)
	if err != nil {
		return false, q.formatQueryError("INSERT", insertBudgetAlertQuery, 10, "neurondb_ledger.budget_alerts", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

/* ListBudgetAlerts lists alerts for a tenant, newest first */
func (q *Queries) ListBudgetAlerts(ctx context.Context, f AlertFilter) ([]BudgetAlert, error) {
	var alerts []BudgetAlert
	if err := sqlx.SelectContext(ctx, q.ext, &alerts, listBudgetAlertsQuery, f.OwnerTenantID, f.BudgetID, f.Acknowledged, f.Limit, f.Offset); err != nil {
		return nil, q.formatQueryError("SELECT", listBudgetAlertsQuery, 5, "neurondb_ledger.budget_alerts", err)
	}
	return alerts, nil
}

/* AcknowledgeBudgetAlert marks an alert acknowledged, or returns nil when absent */
func (q *Queries) AcknowledgeBudgetAlert(ctx context.Context, id uuid.UUID, ownerTenantID, acknowledgedBy string) (*BudgetAlert, error) {
	var a BudgetAlert
	err := sqlx.GetContext(ctx, q.ext, &a, acknowledgeBudgetAlertQuery, id, ownerTenantID, acknowledgedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("budget alert acknowledge failed on %s: query='%s', alert_id='%s', table='neurondb_ledger.budget_alerts', error=%w",
			q.getConnInfoString(), acknowledgeBudgetAlertQuery, id.String(), err)
	}
	return &a, nil
}
