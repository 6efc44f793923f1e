/*-------------------------------------------------------------------------
 *
 * tasks.go
 *    Ledger maintenance jobs
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/jobs/tasks.go
 *
 *-------------------------------------------------------------------------
 */

package jobs

import (
	"context"
	"time"

	"github.com/neurondb/NeuronLedger/internal/metrics"
)

const (
	JobRetrySweep     = "webhook_retry_sweep"
	JobBudgetRollover = "budget_rollover"
	JobPricingRefresh = "pricing_refresh"
	JobPoolStats      = "db_pool_stats"
)

type Sweeper interface {
	SweepOnce(ctx context.Context) (int, error)
}

type Roller interface {
	RollOver(ctx context.Context) (int, error)
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

type PoolReporter interface {
	ReportPoolStats(ctx context.Context) error
}

/* RetrySweep attempts deliveries whose retry time has come */
func RetrySweep(s Sweeper, interval time.Duration) Job {
	return Job{
		Name:       JobRetrySweep,
		Interval:   interval,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			n, err := s.SweepOnce(ctx)
			if n > 0 {
				metrics.DebugWithContext(ctx, "Retry sweep attempted deliveries", map[string]interface{}{
					"claimed": n,
				})
			}
			return err
		},
	}
}

/* BudgetRollover resets spend on budgets whose period has ended */
func BudgetRollover(r Roller, interval time.Duration) Job {
	return Job{
		Name:       JobBudgetRollover,
		Interval:   interval,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			_, err := r.RollOver(ctx)
			return err
		},
	}
}

/* PricingRefresh reloads the model pricing table */
func PricingRefresh(r Refresher, interval time.Duration) Job {
	return Job{
		Name:     JobPricingRefresh,
		Interval: interval,
		Run:      r.Refresh,
	}
}

/* PoolStats publishes database pool gauges */
func PoolStats(p PoolReporter, interval time.Duration) Job {
	return Job{
		Name:       JobPoolStats,
		Interval:   interval,
		RunOnStart: true,
		Run:        p.ReportPoolStats,
	}
}
