/*-------------------------------------------------------------------------
 *
 * tracker_postgres_test.go
 *    Execution recording against a real PostgreSQL instance
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/cost/tracker_postgres_test.go
 *
 *-------------------------------------------------------------------------
 */

package cost_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/db"
	ledgertesting "github.com/neurondb/NeuronLedger/internal/testing"
)

func TestPostgresConcurrentRecordsAlertOncePerType(t *testing.T) {
	tdb := ledgertesting.SetupTestDB(t)
	ctx := context.Background()
	publisher := &recordingPublisher{}
	tr := cost.NewTracker(cost.NewStore(tdb.Queries), calculator(), publisher)

	b := createBudget(t, tr, cost.CreateBudgetInput{TenantID: strPtr("tenant-1"), BudgetAmountUSD: decimal.RequireFromString("0.2")})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tr.Record(ctx, execution(fmt.Sprintf("pg-task-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	tr.Wait()

	stored, found, err := tr.GetBudget(ctx, b.ID, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	want := perExecution.Mul(decimal.NewFromInt(50))
	assert.True(t, want.Equal(stored.CurrentSpendUSD), "want %s got %s", want, stored.CurrentSpendUSD)

	alerts, err := tr.GetAlerts(ctx, cost.AlertQuery{OwnerTenantID: "tenant-1", BudgetID: &b.ID})
	require.NoError(t, err)
	byType := map[string]int{}
	for _, a := range alerts {
		byType[a.AlertType]++
	}
	assert.Equal(t, 1, byType[db.AlertExceeded])
	for alertType, n := range byType {
		assert.Equal(t, 1, n, "alert type %s", alertType)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Len(t, publisher.requests, len(alerts))
}

func TestPostgresDuplicateTaskIsNotChargedTwice(t *testing.T) {
	tdb := ledgertesting.SetupTestDB(t)
	ctx := context.Background()
	tr := cost.NewTracker(cost.NewStore(tdb.Queries), calculator(), nil)
	b := createBudget(t, tr, cost.CreateBudgetInput{UserID: strPtr("user-1"), BudgetAmountUSD: decimal.NewFromInt(10)})

	_, err := tr.Record(ctx, execution("pg-dup"))
	require.NoError(t, err)
	second, err := tr.Record(ctx, execution("pg-dup"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	stored, found, err := tr.GetBudget(ctx, b.ID, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, perExecution.Equal(stored.CurrentSpendUSD))
}
