/*-------------------------------------------------------------------------
 *
 * execution_queries.go
 *    Database queries for the execution ledger and cost summaries
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/execution_queries.go
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

	"github.com/jmoiron/sqlx"
)

/* Execution queries */
const (
	insertExecutionQuery = `
		INSERT INTO neurondb_ledger.execution_log
		(id, task_id, agent_name, tenant_id, user_id, project_id, workflow_id, model_provider, model_name,
		 input_tokens, output_tokens, latency_ms, status, input_cost_usd, output_cost_usd, cost_usd, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (tenant_id, task_id) DO NOTHING
		RETURNING created_at`

	getExecutionByTaskQuery = `SELECT * FROM neurondb_ledger.execution_log WHERE tenant_id = $1 AND task_id = $2`

	/* %s is replaced by a whitelisted grouping expression */
	costSummaryQueryTemplate = `
		SELECT %s AS group_key,
		       COUNT(*) AS execution_count,
		       COALESCE(SUM(input_tokens), 0) AS input_tokens,
		       COALESCE(SUM(output_tokens), 0) AS output_tokens,
		       COALESCE(SUM(cost_usd), 0) AS total_cost_usd,
		       COALESCE(AVG(latency_ms), 0)::float8 AS avg_latency_ms
		FROM neurondb_ledger.execution_log
		WHERE tenant_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		GROUP BY 1
		ORDER BY total_cost_usd DESC, group_key`
)

/* costSummaryGroups maps a group_by value to its SQL expression */
var costSummaryGroups = map[string]string{
	"agent":    "agent_name",
	"project":  "COALESCE(project_id, 'unassigned')",
	"workflow": "COALESCE(workflow_id, 'unassigned')",
	"user":     "user_id",
	"day":      "to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')",
	"model":    "model_provider || '/' || model_name",
}

/* CostSummaryGroupSupported reports whether group_by is a known grouping */
func CostSummaryGroupSupported(groupBy string) bool {
	_, ok := costSummaryGroups[groupBy]
	return ok
}

/* CostSummaryFilter selects executions for a summary */
type CostSummaryFilter struct {
	TenantID string
	GroupBy  string
	From     *time.Time
	To       *time.Time
}

/*
 * InsertExecution appends an execution record. When the tenant already
 * recorded the task_id nothing is written and the stored record is returned with
 * inserted=false.
 */
func (q *Queries) InsertExecution(ctx context.Context, rec *ExecutionRecord) (*ExecutionRecord, bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Context == nil {
		rec.Context = JSONBMap{}
	}

	var createdAt time.Time
	err := sqlx.GetContext(ctx, q.ext, &createdAt, insertExecutionQuery,
		rec.ID, rec.TaskID, rec.AgentName, rec.TenantID, rec.UserID, rec.ProjectID, rec.WorkflowID,
		rec.ModelProvider, rec.ModelName, rec.InputTokens, rec.OutputTokens, rec.LatencyMS, rec.Status,
		rec.InputCostUSD, rec.OutputCostUSD, rec.CostUSD, rec.Context, rec.CreatedAt)
	if err == nil {
		rec.CreatedAt = createdAt
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, q.formatQueryError("INSERT", insertExecutionQuery, 18, "neurondb_ledger.execution_log", err)
	}

	existing, err := q.GetExecutionByTaskID(ctx, rec.TenantID, rec.TaskID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("execution conflict without stored row on %s: tenant_id='%s', task_id='%s', table='neurondb_ledger.execution_log'", q.getConnInfoString(), rec.TenantID, rec.TaskID)
	}
	return existing, false, nil
}

/* GetExecutionByTaskID returns the tenant's execution for task_id, or nil when absent */
func (q *Queries) GetExecutionByTaskID(ctx context.Context, tenantID, taskID string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	err := sqlx.GetContext(ctx, q.ext, &rec, getExecutionByTaskQuery, tenantID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, q.formatQueryError("SELECT", getExecutionByTaskQuery, 2, "neurondb_ledger.execution_log", err)
	}
	return &rec, nil
}

/* GetCostSummary aggregates execution cost for a tenant */
func (q *Queries) GetCostSummary(ctx context.Context, f CostSummaryFilter) ([]CostSummaryRow, error) {
	expr, ok := costSummaryGroups[f.GroupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported cost summary grouping: group_by='%s'", f.GroupBy)
	}
	query := fmt.Sprintf(costSummaryQueryTemplate, expr)

	var rows []CostSummaryRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, f.TenantID, f.From, f.To); err != nil {
		return nil, q.formatQueryError("SELECT", query, 3, "neurondb_ledger.execution_log", err)
	}
	return rows, nil
}
