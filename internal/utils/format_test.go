/*-------------------------------------------------------------------------
 *
 * format_test.go
 *    Tests for formatting helpers
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/utils/format_test.go
 *
 *-------------------------------------------------------------------------
 */

package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Len(t, Truncate(strings.Repeat("x", 1500), 1000), 1000)
	assert.Equal(t, "héé", Truncate("hééllo", 3))
}

func TestFormatQueryContext(t *testing.T) {
	got := FormatQueryContext("SELECT *\n\t FROM   webhooks WHERE id = $1", 1, "SELECT", "webhooks")
	assert.Contains(t, got, "query='SELECT * FROM webhooks WHERE id = $1'")
	assert.Contains(t, got, "params=1")
	assert.Contains(t, got, "table='webhooks'")
}

func TestParseUUID(t *testing.T) {
	id := uuid.New()
	parsed, err := ParseUUID("webhook_id", " "+id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseUUID("webhook_id", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook_id")

	_, err = ParseUUID("budget_id", uuid.Nil.String())
	assert.Error(t, err)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "plain", SanitizeText("plain"))
	assert.Equal(t, "ab", SanitizeText("a\x00b"))
	got := SanitizeText("ok\xff\xfe\x00end")
	assert.True(t, utf8.ValidString(got))
	assert.NotContains(t, got, "\x00")
	assert.True(t, strings.HasPrefix(got, "ok"))
	assert.True(t, strings.HasSuffix(got, "end"))
}
