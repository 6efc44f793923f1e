/*-------------------------------------------------------------------------
 *
 * store.go
 *    Persistence contracts for the cost tracker
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/cost/store.go
 *
 *-------------------------------------------------------------------------
 */

package cost

import (
	"context"

	"github.com/google/uuid"

	"github.com/neurondb/NeuronLedger/internal/budget"
	"github.com/neurondb/NeuronLedger/internal/db"
)

/* TxStore is the persistence available inside a recording transaction */
type TxStore interface {
	budget.Store
	InsertExecution(ctx context.Context, rec *db.ExecutionRecord) (*db.ExecutionRecord, bool, error)
	Savepoint(ctx context.Context, name string, fn func() error) error
}

/* Store is everything the tracker reads and writes */
type Store interface {
	RunInTx(ctx context.Context, fn func(tx TxStore) error) error
	GetExecutionByTaskID(ctx context.Context, tenantID, taskID string) (*db.ExecutionRecord, error)
	GetCostSummary(ctx context.Context, f db.CostSummaryFilter) ([]db.CostSummaryRow, error)
	CreateBudget(ctx context.Context, b *db.Budget) error
	GetBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (*db.Budget, error)
	ListBudgets(ctx context.Context, f db.BudgetFilter) ([]db.Budget, error)
	DeactivateBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (bool, error)
	ListBudgetAlerts(ctx context.Context, f db.AlertFilter) ([]db.BudgetAlert, error)
	AcknowledgeBudgetAlert(ctx context.Context, id uuid.UUID, ownerTenantID, acknowledgedBy string) (*db.BudgetAlert, error)
}

/* queriesStore adapts *db.Queries, whose RunInTx hands out *db.Queries */
type queriesStore struct {
	*db.Queries
}

/* NewStore returns a Store backed by PostgreSQL */
func NewStore(q *db.Queries) Store {
	return queriesStore{Queries: q}
}

func (s queriesStore) RunInTx(ctx context.Context, fn func(tx TxStore) error) error {
	return s.Queries.RunInTx(ctx, func(tq *db.Queries) error {
		return fn(tq)
	})
}
