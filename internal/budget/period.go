/*-------------------------------------------------------------------------
 *
 * period.go
 *    Budget periods and rollover
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/budget/period.go
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
)

/* CurrentPeriod returns the UTC period containing now; total budgets have no end */
func CurrentPeriod(budgetType string, now time.Time) (time.Time, *time.Time, error) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var start, end time.Time
	switch budgetType {
	case db.BudgetDaily:
		start = day
		end = start.AddDate(0, 0, 1)
	case db.BudgetWeekly:
		/* weeks start on Monday */
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case db.BudgetMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	case db.BudgetTotal:
		return now, nil, nil
	default:
		return time.Time{}, nil, fmt.Errorf("unknown budget type: budget_type='%s'", budgetType)
	}
	return start, &end, nil
}

/* RolloverStore is the persistence the rollover needs */
type RolloverStore interface {
	ListExpiredBudgets(ctx context.Context, now time.Time, limit int) ([]db.Budget, error)
	RollBudgetPeriod(ctx context.Context, id uuid.UUID, expectedEnd, newStart time.Time, newEnd *time.Time) (bool, error)
}

/* Roller resets spend on budgets whose period has ended */
type Roller struct {
	store      RolloverStore
	batchSize  int
	maxBatches int
	now        func() time.Time
}

/* NewRoller creates a rollover worker */
func NewRoller(store RolloverStore, batchSize int) *Roller {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Roller{store: store, batchSize: batchSize, maxBatches: 20, now: func() time.Time { return time.Now().UTC() }}
}

/* RollOver advances every expired budget into its current period and returns how many moved */
func (r *Roller) RollOver(ctx context.Context) (int, error) {
	now := r.now()
	rolled := 0

	for batch := 0; batch < r.maxBatches; batch++ {
		budgets, err := r.store.ListExpiredBudgets(ctx, now, r.batchSize)
		if err != nil {
			return rolled, err
		}
		moved := 0
		for i := range budgets {
			b := &budgets[i]
			if b.PeriodEnd == nil {
				continue
			}
			start, end, err := CurrentPeriod(b.BudgetType, now)
			if err != nil {
				metrics.WarnWithContext(ctx, "Skipping budget with unknown type during rollover", map[string]interface{}{
					"budget_id":   b.ID.String(),
					"budget_type": b.BudgetType,
				})
				continue
			}
			ok, err := r.store.RollBudgetPeriod(ctx, b.ID, *b.PeriodEnd, start, end)
			if err != nil {
				return rolled, err
			}
			if ok {
				moved++
			}
		}
		rolled += moved
		if len(budgets) < r.batchSize || moved == 0 {
			break
		}
	}

	if rolled > 0 {
		metrics.RecordBudgetRollovers(rolled)
		metrics.InfoWithContext(ctx, "Budget periods rolled over", map[string]interface{}{"count": rolled})
	}
	return rolled, nil
}
