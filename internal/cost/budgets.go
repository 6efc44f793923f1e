/*-------------------------------------------------------------------------
 *
 * budgets.go
 *    Budget administration, alerts and cost reporting
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/cost/budgets.go
 *
 *-------------------------------------------------------------------------
 */

package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neurondb/NeuronLedger/internal/budget"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/validation"
)

var (
	defaultAlertThreshold    = decimal.NewFromInt(80)
	defaultCriticalThreshold = decimal.NewFromInt(95)
	maxThreshold             = decimal.NewFromInt(100)
)

/* CreateBudgetInput describes a new budget; exactly one scope must be set */
type CreateBudgetInput struct {
	OwnerTenantID        string           `json:"-"`
	TenantID             *string          `json:"tenant_id,omitempty"`
	UserID               *string          `json:"user_id,omitempty"`
	ProjectID            *string          `json:"project_id,omitempty"`
	BudgetType           string           `json:"budget_type"`
	BudgetAmountUSD      decimal.Decimal  `json:"budget_amount_usd"`
	AlertThresholdPct    *decimal.Decimal `json:"alert_threshold_pct,omitempty"`
	CriticalThresholdPct *decimal.Decimal `json:"critical_threshold_pct,omitempty"`
}

func setScope(s *string) bool {
	return s != nil && *s != ""
}

/* Validate enforces the single-scope and threshold rules */
func (in *CreateBudgetInput) Validate() error {
	if err := validation.ValidateRequired(in.OwnerTenantID, "tenant_id"); err != nil {
		return err
	}

	scopes := 0
	for _, s := range []*string{in.TenantID, in.UserID, in.ProjectID} {
		if setScope(s) {
			scopes++
		}
	}
	if scopes != 1 {
		return validation.Errorf("scope", "exactly one of tenant_id, user_id or project_id must be set, got %d", scopes)
	}
	if setScope(in.TenantID) && *in.TenantID != in.OwnerTenantID {
		return validation.Errorf("tenant_id", "tenant budget must belong to the caller's tenant")
	}

	if err := validation.ValidateOneOf(in.BudgetType, "budget_type",
		db.BudgetDaily, db.BudgetWeekly, db.BudgetMonthly, db.BudgetTotal); err != nil {
		return err
	}
	if in.BudgetAmountUSD.IsNegative() {
		return validation.Errorf("budget_amount_usd", "must be non-negative")
	}

	alert, critical := in.thresholds()
	if !alert.IsPositive() {
		return validation.Errorf("alert_threshold_pct", "must be greater than 0")
	}
	if !critical.GreaterThan(alert) {
		return validation.Errorf("critical_threshold_pct", "must be greater than alert_threshold_pct")
	}
	if critical.GreaterThan(maxThreshold) {
		return validation.Errorf("critical_threshold_pct", "must be at most 100")
	}
	return nil
}

func (in *CreateBudgetInput) thresholds() (decimal.Decimal, decimal.Decimal) {
	alert, critical := defaultAlertThreshold, defaultCriticalThreshold
	if in.AlertThresholdPct != nil {
		alert = *in.AlertThresholdPct
	}
	if in.CriticalThresholdPct != nil {
		critical = *in.CriticalThresholdPct
	}
	return alert, critical
}

/* BudgetView is a budget with its utilization */
type BudgetView struct {
	db.Budget
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
	Scope          string          `json:"scope"`
}

func newBudgetView(b db.Budget) BudgetView {
	return BudgetView{
		Budget:         b,
		UtilizationPct: budget.Utilization(b.CurrentSpendUSD, b.BudgetAmountUSD).Round(2),
		Scope:          b.ScopeKind(),
	}
}

/* CreateBudget validates and stores a budget for the current period */
func (t *Tracker) CreateBudget(ctx context.Context, in CreateBudgetInput) (*BudgetView, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	start, end, err := budget.CurrentPeriod(in.BudgetType, t.now())
	if err != nil {
		return nil, err
	}
	alert, critical := in.thresholds()

	b := &db.Budget{
		ID:                   uuid.New(),
		OwnerTenantID:        in.OwnerTenantID,
		TenantID:             nonEmpty(in.TenantID),
		UserID:               nonEmpty(in.UserID),
		ProjectID:            nonEmpty(in.ProjectID),
		BudgetType:           in.BudgetType,
		BudgetAmountUSD:      in.BudgetAmountUSD,
		CurrentSpendUSD:      decimal.Zero,
		AlertThresholdPct:    alert,
		CriticalThresholdPct: critical,
		IsActive:             true,
		PeriodStart:          start,
		PeriodEnd:            end,
	}
	if err := t.store.CreateBudget(ctx, b); err != nil {
		return nil, fmt.Errorf("budget creation failed: tenant_id='%s', scope='%s', error=%w", in.OwnerTenantID, b.ScopeKind(), err)
	}

	view := newBudgetView(*b)
	return &view, nil
}

/* BudgetQuery filters GetBudgets */
type BudgetQuery struct {
	OwnerTenantID string
	IsActive      *bool
	UserID        *string
	ProjectID     *string
}

/* GetBudgets lists a tenant's budgets with utilization */
func (t *Tracker) GetBudgets(ctx context.Context, q BudgetQuery) ([]BudgetView, error) {
	budgets, err := t.store.ListBudgets(ctx, db.BudgetFilter{
		OwnerTenantID: q.OwnerTenantID,
		IsActive:      q.IsActive,
		UserID:        q.UserID,
		ProjectID:     q.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("budget listing failed: tenant_id='%s', error=%w", q.OwnerTenantID, err)
	}

	views := make([]BudgetView, 0, len(budgets))
	for _, b := range budgets {
		views = append(views, newBudgetView(b))
	}
	return views, nil
}

/* GetBudget returns one budget; found is false when it does not exist for the tenant */
func (t *Tracker) GetBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (*BudgetView, bool, error) {
	b, err := t.store.GetBudget(ctx, id, ownerTenantID)
	if err != nil {
		return nil, false, fmt.Errorf("budget lookup failed: budget_id='%s', error=%w", id, err)
	}
	if b == nil {
		return nil, false, nil
	}
	view := newBudgetView(*b)
	return &view, true, nil
}

/* DeactivateBudget stops a budget from being charged; false when it was not active */
func (t *Tracker) DeactivateBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (bool, error) {
	ok, err := t.store.DeactivateBudget(ctx, id, ownerTenantID)
	if err != nil {
		return false, fmt.Errorf("budget deactivation failed: budget_id='%s', error=%w", id, err)
	}
	return ok, nil
}

/* AlertQuery filters GetAlerts */
type AlertQuery struct {
	OwnerTenantID string
	BudgetID      *uuid.UUID
	Acknowledged  *bool
	Limit         int
	Offset        int
}

/* GetAlerts lists a tenant's budget alerts, newest first */
func (t *Tracker) GetAlerts(ctx context.Context, q AlertQuery) ([]db.BudgetAlert, error) {
	if q.Limit == 0 {
		q.Limit = 50
	}
	if err := validation.ValidatePagination(q.Limit, q.Offset); err != nil {
		return nil, err
	}
	alerts, err := t.store.ListBudgetAlerts(ctx, db.AlertFilter{
		OwnerTenantID: q.OwnerTenantID,
		BudgetID:      q.BudgetID,
		Acknowledged:  q.Acknowledged,
		Limit:         q.Limit,
		Offset:        q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("budget alert listing failed: tenant_id='%s', error=%w", q.OwnerTenantID, err)
	}
	return alerts, nil
}

/* AcknowledgeAlert marks an alert as seen by acknowledgedBy */
func (t *Tracker) AcknowledgeAlert(ctx context.Context, id uuid.UUID, ownerTenantID, acknowledgedBy string) (*db.BudgetAlert, bool, error) {
	if err := validation.ValidateRequired(acknowledgedBy, "acknowledged_by"); err != nil {
		return nil, false, err
	}
	alert, err := t.store.AcknowledgeBudgetAlert(ctx, id, ownerTenantID, acknowledgedBy)
	if err != nil {
		return nil, false, fmt.Errorf("budget alert acknowledgement failed: alert_id='%s', error=%w", id, err)
	}
	return alert, alert != nil, nil
}

/* CostSummary is an aggregated cost report */
type CostSummary struct {
	TenantID       string              `json:"tenant_id"`
	GroupBy        string              `json:"group_by"`
	From           *time.Time          `json:"from,omitempty"`
	To             *time.Time          `json:"to,omitempty"`
	Groups         []db.CostSummaryRow `json:"groups"`
	ExecutionCount int64               `json:"execution_count"`
	InputTokens    int64               `json:"input_tokens"`
	OutputTokens   int64               `json:"output_tokens"`
	TotalCostUSD   decimal.Decimal     `json:"total_cost_usd"`
}

/* GetCostSummary aggregates a tenant's cost by agent, project, workflow, user, day or model */
func (t *Tracker) GetCostSummary(ctx context.Context, tenantID, groupBy string, from, to *time.Time) (*CostSummary, error) {
	if groupBy == "" {
		groupBy = "agent"
	}
	if !db.CostSummaryGroupSupported(groupBy) {
		return nil, validation.Errorf("group_by", "unsupported grouping '%s'", groupBy)
	}
	if from != nil && to != nil && !to.After(*from) {
		return nil, validation.Errorf("to", "must be after from")
	}

	rows, err := t.store.GetCostSummary(ctx, db.CostSummaryFilter{TenantID: tenantID, GroupBy: groupBy, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("cost summary failed: tenant_id='%s', group_by='%s', error=%w", tenantID, groupBy, err)
	}

	summary := &CostSummary{
		TenantID:     tenantID,
		GroupBy:      groupBy,
		From:         from,
		To:           to,
		Groups:       rows,
		TotalCostUSD: decimal.Zero,
	}
	if summary.Groups == nil {
		summary.Groups = []db.CostSummaryRow{}
	}
	for _, r := range rows {
		summary.ExecutionCount += r.ExecutionCount
		summary.InputTokens += r.InputTokens
		summary.OutputTokens += r.OutputTokens
		summary.TotalCostUSD = summary.TotalCostUSD.Add(r.TotalCostUSD)
	}
	return summary, nil
}

/* GetExecution returns the recorded execution for a task, scoped to the tenant */
func (t *Tracker) GetExecution(ctx context.Context, taskID, tenantID string) (*db.ExecutionRecord, bool, error) {
	rec, err := t.store.GetExecutionByTaskID(ctx, tenantID, taskID)
	if err != nil {
		return nil, false, fmt.Errorf("execution lookup failed: tenant_id='%s', task_id='%s', error=%w", tenantID, taskID, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

func nonEmpty(s *string) *string {
	if setScope(s) {
		return s
	}
	return nil
}
