/*-------------------------------------------------------------------------
 *
 * testutil_test.go
 *    Tests for the database test helpers
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/testing/testutil_test.go
 *
 *-------------------------------------------------------------------------
 */

package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckProviderRecoversFromPanic(t *testing.T) {
	ctx := context.Background()

	err := checkProvider(ctx, func(context.Context) error { panic("rootless Docker not found") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rootless Docker not found")

	boom := errors.New("daemon unreachable")
	assert.ErrorIs(t, checkProvider(ctx, func(context.Context) error { return boom }), boom)
	assert.NoError(t, checkProvider(ctx, func(context.Context) error { return nil }))
}
