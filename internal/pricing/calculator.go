/*-------------------------------------------------------------------------
 *
 * calculator.go
 *    Token cost calculation against the model pricing table
 *
 * Prices are USD per one million tokens. Arithmetic is exact decimal and
 * each cost component is rounded half-to-even to eight places.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/pricing/calculator.go
 *
 *-------------------------------------------------------------------------
 */

package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/shopspring/decimal"
)

/* CostPrecision is the number of decimal places kept on every cost */
const CostPrecision = 8

var tokensPerUnit = decimal.NewFromInt(1_000_000)

/* freeProviders are self-hosted providers whose unknown models cost nothing */
var freeProviders = map[string]bool{
	"ollama":      true,
	"self-hosted": true,
	"local":       true,
}

/* ErrUnknownModel is matched by every UnknownModelError */
var ErrUnknownModel = errors.New("unknown model pricing")

/* UnknownModelError reports a paid provider/model pair with no pricing row */
type UnknownModelError struct {
	Provider string
	Model    string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("no pricing for provider='%s' model='%s'", e.Provider, e.Model)
}

/* Is makes errors.Is(err, ErrUnknownModel) work */
func (e *UnknownModelError) Is(target error) bool {
	return target == ErrUnknownModel
}

/* Cost is the USD cost of one execution */
type Cost struct {
	InputCostUSD  decimal.Decimal `json:"input_cost_usd"`
	OutputCostUSD decimal.Decimal `json:"output_cost_usd"`
	TotalCostUSD  decimal.Decimal `json:"total_cost_usd"`
}

/* Price is the per-1M-token price of one model */
type Price struct {
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	InputPer1M  decimal.Decimal `json:"input_price_per_1m"`
	OutputPer1M decimal.Decimal `json:"output_price_per_1m"`
}

/* Loader reads the persisted pricing table */
type Loader interface {
	ListActivePricing(ctx context.Context) ([]db.ModelPricing, error)
}

/* Seeder inserts pricing rows that do not exist yet */
type Seeder interface {
	SeedPricing(ctx context.Context, p *db.ModelPricing) (bool, error)
}

type priceTable map[string]Price

func priceKey(provider, model string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "\x00" + strings.ToLower(strings.TrimSpace(model))
}

/*
 * Calculator maps (provider, model, tokens) to cost. The table is an
 * immutable snapshot; Refresh swaps in a new one atomically so concurrent
 * calculations never observe a partially loaded table.
 */
type Calculator struct {
	loader Loader
	table  atomic.Pointer[priceTable]
}

/* NewCalculator creates a calculator backed by loader; call Refresh before use */
func NewCalculator(loader Loader) *Calculator {
	c := &Calculator{loader: loader}
	empty := priceTable{}
	c.table.Store(&empty)
	return c
}

/* NewStaticCalculator creates a calculator over a fixed price list */
func NewStaticCalculator(prices []Price) *Calculator {
	c := &Calculator{}
	table := make(priceTable, len(prices))
	for _, p := range prices {
		table[priceKey(p.Provider, p.Model)] = p
	}
	c.table.Store(&table)
	return c
}

/* Refresh reloads the pricing table from the store */
func (c *Calculator) Refresh(ctx context.Context) error {
	if c.loader == nil {
		return nil
	}
	rows, err := c.loader.ListActivePricing(ctx)
	if err != nil {
		return fmt.Errorf("pricing refresh failed: error=%w", err)
	}

	table := make(priceTable, len(rows))
	for _, r := range rows {
		table[priceKey(r.Provider, r.Model)] = Price{
			Provider:    r.Provider,
			Model:       r.Model,
			InputPer1M:  r.InputPricePer1M,
			OutputPer1M: r.OutputPricePer1M,
		}
	}
	c.table.Store(&table)

	metrics.InfoWithContext(ctx, "Pricing table loaded", map[string]interface{}{
		"models": len(table),
	})
	return nil
}

/* Prices returns the current table sorted by provider and model */
func (c *Calculator) Prices() []Price {
	table := *c.table.Load()
	out := make([]Price, 0, len(table))
	for _, p := range table {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

/* Calculate returns the cost of inputTokens and outputTokens on provider/model */
func (c *Calculator) Calculate(provider, model string, inputTokens, outputTokens int64) (Cost, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return Cost{}, fmt.Errorf("token counts must be non-negative: input_tokens=%d, output_tokens=%d", inputTokens, outputTokens)
	}

	table := *c.table.Load()
	price, ok := table[priceKey(provider, model)]
	if !ok {
		if IsFreeProvider(provider) {
			return Cost{InputCostUSD: decimal.Zero, OutputCostUSD: decimal.Zero, TotalCostUSD: decimal.Zero}, nil
		}
		return Cost{}, &UnknownModelError{Provider: provider, Model: model}
	}

	in := tokenCost(inputTokens, price.InputPer1M)
	out := tokenCost(outputTokens, price.OutputPer1M)
	return Cost{InputCostUSD: in, OutputCostUSD: out, TotalCostUSD: in.Add(out)}, nil
}

/* IsFreeProvider reports whether provider is self-hosted */
func IsFreeProvider(provider string) bool {
	return freeProviders[strings.ToLower(strings.TrimSpace(provider))]
}

func tokenCost(tokens int64, pricePer1M decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).Mul(pricePer1M).Div(tokensPerUnit).RoundBank(CostPrecision)
}

/* ParseSeed converts configured price entries into pricing rows */
func ParseSeed(entries []config.PriceEntry) ([]db.ModelPricing, error) {
	rows := make([]db.ModelPricing, 0, len(entries))
	for i, e := range entries {
		if e.Provider == "" || e.Model == "" {
			return nil, fmt.Errorf("pricing seed entry %d: provider and model are required", i)
		}
		in, err := decimal.NewFromString(e.InputPer1M)
		if err != nil {
			return nil, fmt.Errorf("pricing seed entry %d: invalid input_per_1m='%s', error=%w", i, e.InputPer1M, err)
		}
		out, err := decimal.NewFromString(e.OutputPer1M)
		if err != nil {
			return nil, fmt.Errorf("pricing seed entry %d: invalid output_per_1m='%s', error=%w", i, e.OutputPer1M, err)
		}
		if in.IsNegative() || out.IsNegative() {
			return nil, fmt.Errorf("pricing seed entry %d: prices must be non-negative", i)
		}
		rows = append(rows, db.ModelPricing{
			Provider:         strings.ToLower(e.Provider),
			Model:            strings.ToLower(e.Model),
			InputPricePer1M:  in,
			OutputPricePer1M: out,
			IsActive:         true,
		})
	}
	return rows, nil
}

/* Seed inserts configured prices that are not yet persisted and returns how many were added */
func Seed(ctx context.Context, seeder Seeder, entries []config.PriceEntry) (int, error) {
	rows, err := ParseSeed(entries)
	if err != nil {
		return 0, err
	}
	added := 0
	for i := range rows {
		inserted, err := seeder.SeedPricing(ctx, &rows[i])
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}
	return added, nil
}
