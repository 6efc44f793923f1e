/*-------------------------------------------------------------------------
 *
 * tracker.go
 *    Execution cost recording and budget enforcement
 *
 * Record computes the cost of one agent execution, appends it to the
 * execution log and charges the tenant, user and project budgets in one
 * transaction. Each budget scope is charged under its own savepoint so a
 * failing scope is reported as unknown without losing the record. Alerts
 * raised by the charge are published only after the transaction commits.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/cost/tracker.go
 *
 *-------------------------------------------------------------------------
 */

package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/neurondb/NeuronLedger/internal/budget"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/pricing"
	"github.com/neurondb/NeuronLedger/internal/validation"
)

const (
	alertSource         = "cost-tracker"
	alertPublishTimeout = 30 * time.Second
)

var tracer = otel.Tracer("github.com/neurondb/NeuronLedger/internal/cost")

/* Calculator prices token usage */
type Calculator interface {
	Calculate(provider, model string, inputTokens, outputTokens int64) (pricing.Cost, error)
}

/* Publisher publishes budget alert events */
type Publisher interface {
	Publish(ctx context.Context, req events.PublishRequest) (int, error)
}

/* ExecutionInput describes one finished agent execution */
type ExecutionInput struct {
	TaskID        string                 `json:"task_id"`
	AgentName     string                 `json:"agent_name"`
	TenantID      string                 `json:"tenant_id"`
	UserID        string                 `json:"user_id"`
	ModelProvider string                 `json:"model_provider"`
	ModelName     string                 `json:"model_name"`
	InputTokens   int64                  `json:"input_tokens"`
	OutputTokens  int64                  `json:"output_tokens"`
	LatencyMS     int64                  `json:"latency_ms"`
	Status        string                 `json:"status"`
	ProjectID     *string                `json:"project_id,omitempty"`
	WorkflowID    *string                `json:"workflow_id,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

/* Validate checks required fields and ranges */
func (in *ExecutionInput) Validate() error {
	required := []struct{ value, field string }{
		{in.TaskID, "task_id"},
		{in.AgentName, "agent_name"},
		{in.TenantID, "tenant_id"},
		{in.UserID, "user_id"},
		{in.ModelProvider, "model_provider"},
		{in.ModelName, "model_name"},
	}
	for _, r := range required {
		if err := validation.ValidateRequired(r.value, r.field); err != nil {
			return err
		}
		if err := validation.ValidateMaxLength(r.value, r.field, 255); err != nil {
			return err
		}
	}
	if err := validation.ValidateNonNegative(in.InputTokens, "input_tokens"); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative(in.OutputTokens, "output_tokens"); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative(in.LatencyMS, "latency_ms"); err != nil {
		return err
	}
	return validation.ValidateOneOf(in.Status, "status", db.ExecutionCompleted, db.ExecutionFailed)
}

/* scopes lists the budget scopes an execution is charged to, in charge order */
func (in *ExecutionInput) scopes() []db.BudgetScope {
	scopes := []db.BudgetScope{
		{Kind: db.ScopeTenant, OwnerTenantID: in.TenantID, Value: in.TenantID},
		{Kind: db.ScopeUser, OwnerTenantID: in.TenantID, Value: in.UserID},
	}
	if in.ProjectID != nil && *in.ProjectID != "" {
		scopes = append(scopes, db.BudgetScope{Kind: db.ScopeProject, OwnerTenantID: in.TenantID, Value: *in.ProjectID})
	}
	return scopes
}

/* CostRecord summarizes a recorded execution */
type CostRecord struct {
	ExecutionID   uuid.UUID       `json:"execution_id"`
	TaskID        string          `json:"task_id"`
	InputCostUSD  decimal.Decimal `json:"input_cost_usd"`
	OutputCostUSD decimal.Decimal `json:"output_cost_usd"`
	TotalCostUSD  decimal.Decimal `json:"total_cost_usd"`
	InputTokens   int64           `json:"input_tokens"`
	OutputTokens  int64           `json:"output_tokens"`
	TotalTokens   int64           `json:"total_tokens"`
	BudgetStatus  *budget.Status  `json:"budget_status,omitempty"`
	Duplicate     bool            `json:"duplicate"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

/* Tracker records execution costs and manages budgets */
type Tracker struct {
	store      Store
	calculator Calculator
	checker    *budget.Checker
	publisher  Publisher
	now        func() time.Time
	wg         sync.WaitGroup
}

/* NewTracker creates a tracker; publisher may be nil to skip alert events */
func NewTracker(store Store, calculator Calculator, publisher Publisher) *Tracker {
	now := func() time.Time { return time.Now().UTC() }
	return &Tracker{
		store:      store,
		calculator: calculator,
		checker:    budget.NewCheckerWithClock(now),
		publisher:  publisher,
		now:        now,
	}
}

/* Record prices and stores one execution and charges its budgets */
func (t *Tracker) Record(ctx context.Context, in ExecutionInput) (*CostRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "cost.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", in.TaskID),
		attribute.String("model.provider", in.ModelProvider),
		attribute.String("model.name", in.ModelName),
	)

	cost, err := t.calculator.Calculate(in.ModelProvider, in.ModelName, in.InputTokens, in.OutputTokens)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("execution cost calculation failed: task_id='%s', error=%w", in.TaskID, err)
	}

	rec := &db.ExecutionRecord{
		ID:            uuid.New(),
		TaskID:        in.TaskID,
		AgentName:     in.AgentName,
		TenantID:      in.TenantID,
		UserID:        in.UserID,
		ProjectID:     in.ProjectID,
		WorkflowID:    in.WorkflowID,
		ModelProvider: in.ModelProvider,
		ModelName:     in.ModelName,
		InputTokens:   in.InputTokens,
		OutputTokens:  in.OutputTokens,
		LatencyMS:     in.LatencyMS,
		Status:        in.Status,
		InputCostUSD:  cost.InputCostUSD,
		OutputCostUSD: cost.OutputCostUSD,
		CostUSD:       cost.TotalCostUSD,
		Context:       db.JSONBMap(in.Context),
		CreatedAt:     t.now(),
	}

	var (
		stored    *db.ExecutionRecord
		duplicate bool
		status    *budget.Status
	)
	err = t.store.RunInTx(ctx, func(tx TxStore) error {
		var inserted bool
		stored, inserted, err = tx.InsertExecution(ctx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}

		status = budget.NewStatus()
		for _, scope := range in.scopes() {
			status.Merge(t.chargeScope(ctx, tx, scope, cost.TotalCostUSD))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		metrics.RecordExecution(in.Status, "error")
		return nil, fmt.Errorf("execution recording failed: task_id='%s', tenant_id='%s', error=%w", in.TaskID, in.TenantID, err)
	}

	if duplicate {
		metrics.RecordExecution(in.Status, "duplicate")
		metrics.InfoWithContext(ctx, "Execution already recorded, budgets not charged again", map[string]interface{}{
			"task_id": in.TaskID,
		})
		return newCostRecord(stored, nil, true), nil
	}

	metrics.RecordExecution(in.Status, "recorded")
	metrics.RecordCost(in.ModelProvider, in.ModelName, cost.TotalCostUSD.InexactFloat64(), in.InputTokens, in.OutputTokens)
	t.publishAlerts(ctx, &in, status)

	return newCostRecord(stored, status, false), nil
}

/*
 * RecordBestEffort is Record for callers whose own result must not depend
 * on cost tracking. Every failure is logged and nil is returned.
 */
func (t *Tracker) RecordBestEffort(ctx context.Context, in ExecutionInput) *CostRecord {
	rec, err := t.Record(ctx, in)
	if err != nil {
		metrics.ErrorWithContext(ctx, "Cost tracking failed, continuing without cost record", err, map[string]interface{}{
			"task_id":        in.TaskID,
			"tenant_id":      in.TenantID,
			"model_provider": in.ModelProvider,
			"model_name":     in.ModelName,
		})
		return nil
	}
	return rec
}

/* Wait blocks until background alert publication has finished */
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) chargeScope(ctx context.Context, tx TxStore, scope db.BudgetScope, amount decimal.Decimal) *budget.Status {
	var status *budget.Status
	err := tx.Savepoint(ctx, "budget_"+scope.Kind, func() error {
		var err error
		status, err = t.checker.CheckAndApply(ctx, tx, scope, amount)
		return err
	})
	if err != nil {
		metrics.RecordBudgetCheckFailure(scope.Kind)
		metrics.ErrorWithContext(ctx, "Budget check failed, budget status unknown", err, map[string]interface{}{
			"scope":    scope.Kind,
			"scope_id": scope.Value,
		})
		status = budget.NewStatus()
		status.MarkUnknown(scope.Kind)
	}
	return status
}

func (t *Tracker) publishAlerts(ctx context.Context, in *ExecutionInput, status *budget.Status) {
	if t.publisher == nil || status == nil || len(status.Alerts) == 0 {
		return
	}

	bg := context.WithoutCancel(ctx)
	userID := in.UserID
	for _, alert := range status.Alerts {
		eventType, ok := events.BudgetEventType(alert.AlertType)
		if !ok {
			continue
		}
		req := events.PublishRequest{
			EventType: eventType,
			EventID:   alert.ID.String(),
			Source:    alertSource,
			TenantID:  alert.OwnerTenantID,
			UserID:    &userID,
			ProjectID: in.ProjectID,
			Data: map[string]interface{}{
				"alert_id":          alert.ID.String(),
				"budget_id":         alert.BudgetID.String(),
				"alert_type":        alert.AlertType,
				"threshold_pct":     alert.ThresholdPct.String(),
				"current_spend_usd": alert.CurrentSpendUSD.String(),
				"budget_amount_usd": alert.BudgetAmountUSD.String(),
				"period_start":      alert.PeriodStart.UTC().Format(time.RFC3339),
				"message":           alert.Message,
				"task_id":           in.TaskID,
			},
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			pctx, cancel := context.WithTimeout(bg, alertPublishTimeout)
			defer cancel()
			if _, err := t.publisher.Publish(pctx, req); err != nil {
				metrics.ErrorWithContext(pctx, "Budget alert event publish failed", err, map[string]interface{}{
					"alert_id":   req.EventID,
					"event_type": string(req.EventType),
				})
			}
		}()
	}
}

func newCostRecord(rec *db.ExecutionRecord, status *budget.Status, duplicate bool) *CostRecord {
	return &CostRecord{
		ExecutionID:   rec.ID,
		TaskID:        rec.TaskID,
		InputCostUSD:  rec.InputCostUSD,
		OutputCostUSD: rec.OutputCostUSD,
		TotalCostUSD:  rec.CostUSD,
		InputTokens:   rec.InputTokens,
		OutputTokens:  rec.OutputTokens,
		TotalTokens:   rec.InputTokens + rec.OutputTokens,
		BudgetStatus:  status,
		Duplicate:     duplicate,
		RecordedAt:    rec.CreatedAt,
	}
}
