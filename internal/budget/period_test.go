/*-------------------------------------------------------------------------
 *
 * period_test.go
 *    Tests for budget periods and rollover
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/budget/period_test.go
 *
 *-------------------------------------------------------------------------
 */

package budget

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentPeriod(t *testing.T) {
	/* Wednesday */
	now := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

	start, end, err := CurrentPeriod(db.BudgetDaily, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), *end)

	start, end, err = CurrentPeriod(db.BudgetWeekly, now)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), *end)

	start, end, err = CurrentPeriod(db.BudgetMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), *end)

	_, end, err = CurrentPeriod(db.BudgetTotal, now)
	require.NoError(t, err)
	assert.Nil(t, end)

	_, _, err = CurrentPeriod("hourly", now)
	assert.Error(t, err)
}

func TestWeeklyPeriodOnSunday(t *testing.T) {
	start, _, err := CurrentPeriod(db.BudgetWeekly, time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), start)
}

type fakeRolloverStore struct {
	budgets map[uuid.UUID]*db.Budget
}

func (f *fakeRolloverStore) ListExpiredBudgets(ctx context.Context, now time.Time, limit int) ([]db.Budget, error) {
	var out []db.Budget
	for _, b := range f.budgets {
		if b.IsActive && b.PeriodEnd != nil && !b.PeriodEnd.After(now) {
			out = append(out, *b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRolloverStore) RollBudgetPeriod(ctx context.Context, id uuid.UUID, expectedEnd, newStart time.Time, newEnd *time.Time) (bool, error) {
	b := f.budgets[id]
	if b == nil || b.PeriodEnd == nil || !b.PeriodEnd.Equal(expectedEnd) {
		return false, nil
	}
	b.CurrentSpendUSD = decimal.Zero
	b.PeriodStart = newStart
	b.PeriodEnd = newEnd
	return true, nil
}

func TestRollOverResetsExpiredBudgets(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	septEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	octEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	expired := tenantBudget("100")
	expired.PeriodStart = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	expired.PeriodEnd = &septEnd
	expired.CurrentSpendUSD = decimal.NewFromInt(42)

	current := tenantBudget("100")
	current.PeriodEnd = &octEnd
	current.CurrentSpendUSD = decimal.NewFromInt(7)

	store := &fakeRolloverStore{budgets: map[uuid.UUID]*db.Budget{expired.ID: &expired, current.ID: &current}}
	roller := NewRoller(store, 10)
	roller.now = func() time.Time { return now }

	n, err := roller.RollOver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, expired.CurrentSpendUSD.IsZero())
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), expired.PeriodStart)
	assert.Equal(t, octEnd, *expired.PeriodEnd)
	assert.True(t, current.CurrentSpendUSD.Equal(decimal.NewFromInt(7)))

	n, err = roller.RollOver(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
