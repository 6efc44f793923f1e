/*-------------------------------------------------------------------------
 *
 * sweeper.go
 *    Periodic re-attempt of due webhook deliveries
 *
 * Each sweep claims a bounded batch of retrying deliveries whose
 * next_retry_at has passed, plus pending deliveries that were never
 * attempted, and attempts them concurrently. Claims carry a lease so
 * concurrent sweepers on other instances skip rows already taken.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/webhooks/sweeper.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/metrics"
)

/* ClaimStore claims due deliveries */
type ClaimStore interface {
	ClaimDueDeliveries(ctx context.Context, claim db.DeliveryClaim, pendingBefore time.Time, limit int) ([]db.WebhookDelivery, error)
}

/* Attempter performs one attempt on a delivery the sweep has leased */
type Attempter interface {
	AttemptClaimed(ctx context.Context, deliveryID uuid.UUID, claim db.DeliveryClaim) (*AttemptResult, error)
}

/* Sweeper re-attempts deliveries that are due */
type Sweeper struct {
	store       ClaimStore
	attempter   Attempter
	batchSize   int
	concurrency int
	lease       time.Duration
	staleAge    time.Duration
	now         func() time.Time
}

/* NewSweeper creates a sweeper */
func NewSweeper(store ClaimStore, attempter Attempter, cfg config.WebhookConfig) *Sweeper {
	s := &Sweeper{
		store:       store,
		attempter:   attempter,
		batchSize:   cfg.SweepBatchSize,
		concurrency: cfg.SweepConcurrency,
		lease:       cfg.ClaimLease,
		staleAge:    cfg.StalePendingAge,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.concurrency <= 0 {
		s.concurrency = 10
	}
	if s.lease <= 0 {
		s.lease = 5 * time.Minute
	}
	if s.staleAge <= 0 {
		s.staleAge = 10 * time.Minute
	}
	return s
}

/* SweepOnce claims and attempts one batch, returning how many were claimed */
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	claim := db.NewDeliveryClaim(now, s.lease)
	claimed, err := s.store.ClaimDueDeliveries(ctx, claim, now.Add(-s.staleAge), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("due delivery claim failed: error=%w", err)
	}
	metrics.RecordRetrySweepClaimed(len(claimed))
	if len(claimed) == 0 {
		return 0, nil
	}

	/* in-flight attempts finish even when the sweep is being stopped */
	attemptCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range claimed {
		id := claimed[i].ID
		g.Go(func() error {
			if _, err := s.attempter.AttemptClaimed(attemptCtx, id, claim); err != nil {
				metrics.ErrorWithContext(attemptCtx, "Webhook retry attempt failed", err, map[string]interface{}{
					"delivery_id": id.String(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.DebugWithContext(ctx, "Webhook retry sweep finished", map[string]interface{}{"claimed": len(claimed)})
	return len(claimed), nil
}
