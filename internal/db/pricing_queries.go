/*-------------------------------------------------------------------------
 *
 * pricing_queries.go
 *    Database queries for model pricing
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/pricing_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

/* Pricing queries */
const (
	listActivePricingQuery = `
		SELECT provider, model, input_price_per_1m, output_price_per_1m, is_active, updated_at
		FROM neurondb_ledger.model_pricing
		WHERE is_active
		ORDER BY provider, model`

	seedPricingQuery = `
		INSERT INTO neurondb_ledger.model_pricing (provider, model, input_price_per_1m, output_price_per_1m)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, model) DO NOTHING`

	upsertPricingQuery = `
		INSERT INTO neurondb_ledger.model_pricing (provider, model, input_price_per_1m, output_price_per_1m, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (provider, model) DO UPDATE
		SET input_price_per_1m = EXCLUDED.input_price_per_1m,
		    output_price_per_1m = EXCLUDED.output_price_per_1m,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()`
)

/* ListActivePricing returns every active pricing row */
func (q *Queries) ListActivePricing(ctx context.Context) ([]ModelPricing, error) {
	var rows []ModelPricing
	if err := sqlx.SelectContext(ctx, q.ext, &rows, listActivePricingQuery); err != nil {
		return nil, q.formatQueryError("SELECT", listActivePricingQuery, 0, "neurondb_ledger.model_pricing", err)
	}
	return rows, nil
}

/* SeedPricing inserts a pricing row unless one already exists; reports whether it inserted */
func (q *Queries) SeedPricing(ctx context.Context, p *ModelPricing) (bool, error) {
	res, err := q.ext.ExecContext(ctx, seedPricingQuery, p.Provider, p.Model, p.InputPricePer1M, p.OutputPricePer1M)
	if err != nil {
		return false, q.formatQueryError("INSERT", seedPricingQuery, 4, "neurondb_ledger.model_pricing", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

/* UpsertPricing inserts or replaces a pricing row */
func (q *Queries) UpsertPricing(ctx context.Context, p *ModelPricing) error {
	if _, err := q.ext.ExecContext(ctx, upsertPricingQuery, p.Provider, p.Model, p.InputPricePer1M, p.OutputPricePer1M, p.IsActive); err != nil {
		return q.formatQueryError("INSERT", upsertPricingQuery, 5, "neurondb_ledger.model_pricing", err)
	}
	return nil
}
