/*-------------------------------------------------------------------------
 *
 * tracker_test.go
 *    Tests for execution cost recording
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/cost/tracker_test.go
 *
 *-------------------------------------------------------------------------
 */

package cost_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/pricing"
	ledgertesting "github.com/neurondb/NeuronLedger/internal/testing"
	"github.com/neurondb/NeuronLedger/internal/validation"
)

func calculator() *pricing.Calculator {
	return pricing.NewStaticCalculator([]pricing.Price{
		{Provider: "anthropic", Model: "claude-3-5-sonnet", InputPer1M: decimal.RequireFromString("3"), OutputPer1M: decimal.RequireFromString("15")},
	})
}

func execution(taskID string) cost.ExecutionInput {
	return cost.ExecutionInput{
		TaskID:        taskID,
		AgentName:     "researcher",
		TenantID:      "tenant-1",
		UserID:        "user-1",
		ModelProvider: "anthropic",
		ModelName:     "claude-3-5-sonnet",
		InputTokens:   1000,
		OutputTokens:  200,
		LatencyMS:     850,
		Status:        db.ExecutionCompleted,
	}
}

/* 1000 input and 200 output tokens at 3/15 per million */
var perExecution = decimal.RequireFromString("0.006")

func strPtr(s string) *string { return &s }

func createBudget(t *testing.T, tr *cost.Tracker, in cost.CreateBudgetInput) *cost.BudgetView {
	t.Helper()
	if in.OwnerTenantID == "" {
		in.OwnerTenantID = "tenant-1"
	}
	if in.BudgetType == "" {
		in.BudgetType = db.BudgetMonthly
	}
	view, err := tr.CreateBudget(context.Background(), in)
	require.NoError(t, err)
	return view
}

type recordingPublisher struct {
	mu       sync.Mutex
	requests []events.PublishRequest
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, req events.PublishRequest) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return 0, p.err
}

func TestRecordPricesAndStoresExecution(t *testing.T) {
	store := ledgertesting.NewMemStore()
	tr := cost.NewTracker(store, calculator(), nil)

	rec, err := tr.Record(context.Background(), execution("task-1"))
	require.NoError(t, err)
	assert.True(t, perExecution.Equal(rec.TotalCostUSD), "got %s", rec.TotalCostUSD)
	assert.Equal(t, int64(1200), rec.TotalTokens)
	assert.False(t, rec.Duplicate)
	require.NotNil(t, rec.BudgetStatus)
	assert.True(t, rec.BudgetStatus.WithinBudget)

	stored, found, err := tr.GetExecution(context.Background(), "task-1", "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "researcher", stored.AgentName)

	_, found, err = tr.GetExecution(context.Background(), "task-1", "tenant-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentRecordsChargeEveryExecution(t *testing.T) {
	store := ledgertesting.NewMemStore()
	tr := cost.NewTracker(store, calculator(), nil)
	b := createBudget(t, tr, cost.CreateBudgetInput{TenantID: strPtr("tenant-1"), BudgetAmountUSD: decimal.NewFromInt(1000)})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tr.Record(context.Background(), execution(fmt.Sprintf("task-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, ok := store.Budget(b.ID)
	require.True(t, ok)
	want := perExecution.Mul(decimal.NewFromInt(100))
	assert.True(t, want.Equal(stored.CurrentSpendUSD), "want %s got %s", want, stored.CurrentSpendUSD)
	assert.Len(t, store.Executions(), 100)
}

func TestDuplicateTaskIsNotChargedTwice(t *testing.T) {
	store := ledgertesting.NewMemStore()
	tr := cost.NewTracker(store, calculator(), nil)
	b := createBudget(t, tr, cost.CreateBudgetInput{UserID: strPtr("user-1"), BudgetAmountUSD: decimal.NewFromInt(10)})

	first, err := tr.Record(context.Background(), execution("task-dup"))
	require.NoError(t, err)

	again := execution("task-dup")
	again.InputTokens = 999_999
	second, err := tr.Record(context.Background(), again)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.BudgetStatus)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)
	assert.True(t, first.TotalCostUSD.Equal(second.TotalCostUSD))

	stored, _ := store.Budget(b.ID)
	assert.True(t, perExecution.Equal(stored.CurrentSpendUSD))
	assert.Len(t, store.Executions(), 1)
}

func TestSameTaskIDInAnotherTenantIsCharged(t *testing.T) {
	store := ledgertesting.NewMemStore()
	tr := cost.NewTracker(store, calculator(), nil)
	ctx := context.Background()
	b := createBudget(t, tr, cost.CreateBudgetInput{OwnerTenantID: "tenant-2", TenantID: strPtr("tenant-2"), BudgetAmountUSD: decimal.NewFromInt(1)})

	big := execution("task-shared")
	big.InputTokens = 999_999
	first, err := tr.Record(ctx, big)
	require.NoError(t, err)

	mine := execution("task-shared")
	mine.TenantID = "tenant-2"
	second, err := tr.Record(ctx, mine)
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
	assert.Equal(t, int64(1200), second.TotalTokens)
	assert.True(t, perExecution.Equal(second.TotalCostUSD), "got %s", second.TotalCostUSD)

	stored, found, err := tr.GetBudget(ctx, b.ID, "tenant-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, perExecution.Equal(stored.CurrentSpendUSD), "got %s", stored.CurrentSpendUSD)

	rec, found, err := tr.GetExecution(ctx, "task-shared", "tenant-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.ExecutionID, rec.ID)
	assert.Len(t, store.Executions(), 2)
}

func TestBudgetFailureIsIsolatedToItsScope(t *testing.T) {
	store := ledgertesting.NewMemStore()
	tr := cost.NewTracker(store, calculator(), nil)
	tenantBudget := createBudget(t, tr, cost.CreateBudgetInput{TenantID: strPtr("tenant-1"), BudgetAmountUSD: decimal.NewFromInt(10)})
	userBudget := createBudget(t, tr, cost.CreateBudgetInput{UserID: strPtr("user-1"), BudgetAmountUSD: decimal.NewFromInt(10)})
	store.FailOn("IncrementBudgetSpend:user", errors.New("lock timeout"))

	rec, err := tr.Record(context.Background(), execution("task-1"))
	require.NoError(t, err)
	require.NotNil(t, rec.BudgetStatus)
	assert.Equal(t, []string{db.ScopeUser}, rec.BudgetStatus.UnknownScopes)

	stored, _ := store.Budget(tenantBudget.ID)
	assert.True(t, perExecution.Equal(stored.CurrentSpendUSD))
	stored, _ = store.Budget(userBudget.ID)
	assert.True(t, stored.CurrentSpendUSD.IsZero())
	assert.Len(t, store.Executions(), 1)
}

func TestExecutionInsertFailureRollsBack(t *testing.T) {
	store := ledgertesting.NewMemStore()
	tr := cost.NewTracker(store, calculator(), nil)
	store.FailOn("InsertExecution", errors.New("connection reset"))

	_, err := tr.Record(context.Background(), execution("task-1"))
	require.Error(t, err)
	assert.Empty(t, store.Executions())
}

func TestRecordBestEffortSwallowsErrors(t *testing.T) {
	store := ledgertesting.NewMemStore()
	tr := cost.NewTracker(store, calculator(), nil)

	in := execution("task-unknown-model")
	in.ModelName = "mystery-model"
	assert.Nil(t, tr.RecordBestEffort(context.Background(), in))

	_, err := tr.Record(context.Background(), in)
	assert.ErrorIs(t, err, pricing.ErrUnknownModel)
	assert.Empty(t, store.Executions())
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	tr := cost.NewTracker(ledgertesting.NewMemStore(), calculator(), nil)

	for name, mutate := range map[string]func(in *cost.ExecutionInput){
		"missing task":    func(in *cost.ExecutionInput) { in.TaskID = "" },
		"negative tokens": func(in *cost.ExecutionInput) { in.OutputTokens = -1 },
		"bad status":      func(in *cost.ExecutionInput) { in.Status = "running" },
	} {
		t.Run(name, func(t *testing.T) {
			in := execution("task-1")
			mutate(&in)
			_, err := tr.Record(context.Background(), in)
			assert.True(t, validation.IsValidationError(err), "got %v", err)
		})
	}
}

func TestCrossingThresholdPublishesAlertEvent(t *testing.T) {
	store := ledgertesting.NewMemStore()
	pub := &recordingPublisher{}
	tr := cost.NewTracker(store, calculator(), pub)
	project := strPtr("proj-A")
	createBudget(t, tr, cost.CreateBudgetInput{
		ProjectID:       project,
		BudgetType:      db.BudgetDaily,
		BudgetAmountUSD: decimal.RequireFromString("0.005"),
	})

	in := execution("task-1")
	in.ProjectID = project
	rec, err := tr.Record(context.Background(), in)
	require.NoError(t, err)
	tr.Wait()

	require.Len(t, rec.BudgetStatus.Alerts, 1)
	alert := rec.BudgetStatus.Alerts[0]
	assert.Equal(t, db.AlertExceeded, alert.AlertType)
	assert.True(t, rec.BudgetStatus.BudgetExceeded)
	assert.False(t, rec.BudgetStatus.WithinBudget)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.requests, 1)
	req := pub.requests[0]
	assert.Equal(t, events.EventBudgetExceeded, req.EventType)
	assert.Equal(t, alert.ID.String(), req.EventID)
	assert.Equal(t, "tenant-1", req.TenantID)
	assert.Equal(t, "proj-A", *req.ProjectID)
	assert.Equal(t, "task-1", req.Data["task_id"])
}

func TestAlertPublishFailureDoesNotFailRecord(t *testing.T) {
	store := ledgertesting.NewMemStore()
	pub := &recordingPublisher{err: errors.New("event log unavailable")}
	tr := cost.NewTracker(store, calculator(), pub)
	createBudget(t, tr, cost.CreateBudgetInput{TenantID: strPtr("tenant-1"), BudgetAmountUSD: decimal.RequireFromString("0.001")})

	rec, err := tr.Record(context.Background(), execution("task-1"))
	require.NoError(t, err)
	tr.Wait()
	assert.Len(t, rec.BudgetStatus.Alerts, 1)
	assert.Len(t, store.Alerts(), 1)
}
