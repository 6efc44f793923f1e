/*-------------------------------------------------------------------------
 *
 * checker.go
 *    Budget spend accounting and threshold alerts
 *
 * CheckAndApply adds a cost to every active budget of one scope with a
 * single UPDATE ... RETURNING statement and evaluates the new spend against
 * the warning, critical and exceeded thresholds. An alert is stored at most
 * once per budget, type and period; the unique key on budget_alerts makes
 * repeated executions past a threshold a no-op.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/budget/checker.go
 *
 *-------------------------------------------------------------------------
 */

package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

/* Store is the transactional persistence the checker needs */
type Store interface {
	IncrementBudgetSpend(ctx context.Context, scope db.BudgetScope, amount decimal.Decimal) ([]db.Budget, error)
	InsertBudgetAlert(ctx context.Context, alert *db.BudgetAlert) (bool, error)
}

/* Level is an alert severity; the zero value means no threshold reached */
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelCritical
	LevelExceeded
)

/* AlertType returns the stored alert_type of the level */
func (l Level) AlertType() string {
	switch l {
	case LevelWarning:
		return db.AlertWarning
	case LevelCritical:
		return db.AlertCritical
	case LevelExceeded:
		return db.AlertExceeded
	}
	return ""
}

/* BudgetState is a budget's position after an increment */
type BudgetState struct {
	BudgetID        uuid.UUID       `json:"budget_id"`
	Scope           string          `json:"scope"`
	BudgetType      string          `json:"budget_type"`
	CurrentSpendUSD decimal.Decimal `json:"current_spend_usd"`
	BudgetAmountUSD decimal.Decimal `json:"budget_amount_usd"`
	UtilizationPct  decimal.Decimal `json:"utilization_pct"`
	Level           string          `json:"level,omitempty"`
}

/* Status is the outcome of one or more budget checks */
type Status struct {
	WithinBudget   bool             `json:"within_budget"`
	BudgetExceeded bool             `json:"budget_exceeded"`
	Alerts         []db.BudgetAlert `json:"alerts"`
	Budgets        []BudgetState    `json:"budgets"`
	UnknownScopes  []string         `json:"unknown_scopes,omitempty"`
}

/* NewStatus returns the status of a scope with no budgets */
func NewStatus() *Status {
	return &Status{WithinBudget: true, Alerts: []db.BudgetAlert{}, Budgets: []BudgetState{}}
}

/* Merge folds other into s, keeping the worst case */
func (s *Status) Merge(other *Status) {
	if other == nil {
		return
	}
	s.WithinBudget = s.WithinBudget && other.WithinBudget
	s.BudgetExceeded = s.BudgetExceeded || other.BudgetExceeded
	s.Alerts = append(s.Alerts, other.Alerts...)
	s.Budgets = append(s.Budgets, other.Budgets...)
	s.UnknownScopes = append(s.UnknownScopes, other.UnknownScopes...)
}

/* MarkUnknown records that a scope could not be checked */
func (s *Status) MarkUnknown(scope string) {
	s.UnknownScopes = append(s.UnknownScopes, scope)
}

/* Checker applies costs to budgets */
type Checker struct {
	now func() time.Time
}

/* NewChecker creates a budget checker */
func NewChecker() *Checker {
	return &Checker{now: func() time.Time { return time.Now().UTC() }}
}

/* NewCheckerWithClock creates a checker with a fixed clock, for tests */
func NewCheckerWithClock(now func() time.Time) *Checker {
	return &Checker{now: now}
}

/*
 * CheckAndApply increments every active budget of scope by cost and raises
 * newly reached alerts. It must run inside the transaction that records the
 * execution so the increment commits or rolls back with it.
 */
func (c *Checker) CheckAndApply(ctx context.Context, store Store, scope db.BudgetScope, cost decimal.Decimal) (*Status, error) {
	status := NewStatus()

	budgets, err := store.IncrementBudgetSpend(ctx, scope, cost)
	if err != nil {
		return nil, fmt.Errorf("budget increment failed: scope='%s', scope_id='%s', error=%w", scope.Kind, scope.Value, err)
	}

	for i := range budgets {
		b := &budgets[i]
		utilization := Utilization(b.CurrentSpendUSD, b.BudgetAmountUSD)
		level := LevelFor(b)

		status.Budgets = append(status.Budgets, BudgetState{
			BudgetID:        b.ID,
			Scope:           scope.Kind,
			BudgetType:      b.BudgetType,
			CurrentSpendUSD: b.CurrentSpendUSD,
			BudgetAmountUSD: b.BudgetAmountUSD,
			UtilizationPct:  utilization,
			Level:           level.AlertType(),
		})

		if level >= LevelCritical {
			status.WithinBudget = false
		}
		if level == LevelExceeded {
			status.BudgetExceeded = true
		}
		if level == LevelNone {
			continue
		}

		alert := newAlert(b, level, utilization, c.now())
		inserted, err := store.InsertBudgetAlert(ctx, alert)
		if err != nil {
			return nil, fmt.Errorf("budget alert insert failed: budget_id='%s', alert_type='%s', error=%w", b.ID, alert.AlertType, err)
		}
		if inserted {
			status.Alerts = append(status.Alerts, *alert)
			metrics.RecordBudgetAlert(alert.AlertType)
			metrics.InfoWithContext(ctx, "Budget threshold crossed", map[string]interface{}{
				"budget_id":       b.ID.String(),
				"alert_type":      alert.AlertType,
				"utilization_pct": utilization.StringFixed(2),
				"scope":           scope.Kind,
			})
		}
	}

	return status, nil
}

/* Utilization returns spend as a percentage of amount, 0 when amount is not positive */
func Utilization(spend, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return spend.Mul(hundred).Div(amount).Round(4)
}

/*
 * LevelFor returns the highest threshold the budget's spend has reached.
 * Budgets with a non-positive amount never alert.
 */
func LevelFor(b *db.Budget) Level {
	if !b.BudgetAmountUSD.IsPositive() {
		return LevelNone
	}
	spendPct := b.CurrentSpendUSD.Mul(hundred)
	switch {
	case spendPct.GreaterThanOrEqual(b.BudgetAmountUSD.Mul(hundred)):
		return LevelExceeded
	case spendPct.GreaterThanOrEqual(b.BudgetAmountUSD.Mul(b.CriticalThresholdPct)):
		return LevelCritical
	case spendPct.GreaterThanOrEqual(b.BudgetAmountUSD.Mul(b.AlertThresholdPct)):
		return LevelWarning
	}
	return LevelNone
}

func newAlert(b *db.Budget, level Level, utilization decimal.Decimal, now time.Time) *db.BudgetAlert {
	threshold := hundred
	switch level {
	case LevelWarning:
		threshold = b.AlertThresholdPct
	case LevelCritical:
		threshold = b.CriticalThresholdPct
	}

	return &db.BudgetAlert{
		ID:              uuid.New(),
		BudgetID:        b.ID,
		OwnerTenantID:   b.OwnerTenantID,
		AlertType:       level.AlertType(),
		ThresholdPct:    threshold,
		CurrentSpendUSD: b.CurrentSpendUSD,
		BudgetAmountUSD: b.BudgetAmountUSD,
		PeriodStart:     b.PeriodStart,
		Message: fmt.Sprintf("%s %s budget reached %s%% of $%s (spend $%s, %s threshold %s%%)",
			b.ScopeKind(), b.BudgetType, utilization.StringFixed(2), b.BudgetAmountUSD.StringFixed(2),
			b.CurrentSpendUSD.StringFixed(6), level.AlertType(), threshold.StringFixed(0)),
		CreatedAt: now,
	}
}
