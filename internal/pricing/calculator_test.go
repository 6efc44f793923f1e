/*-------------------------------------------------------------------------
 *
 * calculator_test.go
 *    Tests for token cost calculation
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/pricing/calculator_test.go
 *
 *-------------------------------------------------------------------------
 */

package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCalculator() *Calculator {
	return NewStaticCalculator([]Price{
		{Provider: "openai", Model: "gpt-4o-mini", InputPer1M: decimal.RequireFromString("0.15"), OutputPer1M: decimal.RequireFromString("0.60")},
		{Provider: "anthropic", Model: "claude-3-5-sonnet", InputPer1M: decimal.RequireFromString("3"), OutputPer1M: decimal.RequireFromString("15")},
	})
}

func TestCalculateKnownModel(t *testing.T) {
	c := testCalculator()

	cost, err := c.Calculate("openai", "gpt-4o-mini", 1234, 567)
	require.NoError(t, err)
	assert.Equal(t, "0.0001851", cost.InputCostUSD.String())
	assert.Equal(t, "0.0003402", cost.OutputCostUSD.String())
	assert.Equal(t, "0.0005253", cost.TotalCostUSD.String())
}

func TestCalculateMatchesFormula(t *testing.T) {
	c := testCalculator()
	inPrice := decimal.RequireFromString("3")
	outPrice := decimal.RequireFromString("15")
	million := decimal.NewFromInt(1_000_000)

	for _, tc := range []struct{ in, out int64 }{
		{0, 0}, {1, 1}, {999_999, 1}, {7, 13}, {250_000, 80_000}, {123_456_789, 98_765},
	} {
		cost, err := c.Calculate("anthropic", "claude-3-5-sonnet", tc.in, tc.out)
		require.NoError(t, err)
		want := decimal.NewFromInt(tc.in).Div(million).Mul(inPrice).
			Add(decimal.NewFromInt(tc.out).Div(million).Mul(outPrice))
		assert.True(t, want.Round(6).Equal(cost.TotalCostUSD.Round(6)), "in=%d out=%d want=%s got=%s", tc.in, tc.out, want, cost.TotalCostUSD)
	}
}

func TestCalculateIsCaseInsensitive(t *testing.T) {
	cost, err := testCalculator().Calculate("OpenAI", "GPT-4o-mini", 1_000_000, 0)
	require.NoError(t, err)
	assert.True(t, cost.TotalCostUSD.Equal(decimal.RequireFromString("0.15")))
}

func TestCalculateOllamaIsFree(t *testing.T) {
	c := testCalculator()
	for _, tokens := range []int64{0, 1, 1_000_000, 9_999_999_999} {
		cost, err := c.Calculate("ollama", "llama3:70b", tokens, tokens)
		require.NoError(t, err)
		assert.True(t, cost.TotalCostUSD.IsZero())
	}
}

func TestCalculateUnknownPaidModelFails(t *testing.T) {
	_, err := testCalculator().Calculate("openai", "gpt-unreleased", 10, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownModel))

	var unknown *UnknownModelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "gpt-unreleased", unknown.Model)
}

func TestCalculateRejectsNegativeTokens(t *testing.T) {
	_, err := testCalculator().Calculate("openai", "gpt-4o-mini", -1, 0)
	assert.Error(t, err)
}

type fakePricingStore struct {
	rows   []db.ModelPricing
	seeded map[string]bool
}

func (f *fakePricingStore) ListActivePricing(ctx context.Context) ([]db.ModelPricing, error) {
	return f.rows, nil
}

func (f *fakePricingStore) SeedPricing(ctx context.Context, p *db.ModelPricing) (bool, error) {
	key := p.Provider + "/" + p.Model
	if f.seeded[key] {
		return false, nil
	}
	f.seeded[key] = true
	f.rows = append(f.rows, *p)
	return true, nil
}

func TestSeedAndRefresh(t *testing.T) {
	ctx := context.Background()
	store := &fakePricingStore{seeded: map[string]bool{}}

	added, err := Seed(ctx, store, []config.PriceEntry{
		{Provider: "OpenAI", Model: "gpt-4o", InputPer1M: "2.50", OutputPer1M: "10.00"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = Seed(ctx, store, []config.PriceEntry{
		{Provider: "openai", Model: "gpt-4o", InputPer1M: "9", OutputPer1M: "9"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	c := NewCalculator(store)
	_, err = c.Calculate("openai", "gpt-4o", 1, 1)
	require.Error(t, err)

	require.NoError(t, c.Refresh(ctx))
	cost, err := c.Calculate("openai", "gpt-4o", 2_000_000, 1_000_000)
	require.NoError(t, err)
	assert.True(t, cost.TotalCostUSD.Equal(decimal.NewFromInt(15)))
	require.Len(t, c.Prices(), 1)
}

func TestParseSeedRejectsBadPrices(t *testing.T) {
	_, err := ParseSeed([]config.PriceEntry{{Provider: "openai", Model: "m", InputPer1M: "abc", OutputPer1M: "1"}})
	assert.Error(t, err)
	_, err = ParseSeed([]config.PriceEntry{{Provider: "openai", Model: "m", InputPer1M: "-1", OutputPer1M: "1"}})
	assert.Error(t, err)
	_, err = ParseSeed([]config.PriceEntry{{Model: "m", InputPer1M: "1", OutputPer1M: "1"}})
	assert.Error(t, err)
}
