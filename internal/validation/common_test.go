/*-------------------------------------------------------------------------
 *
 * common_test.go
 *    Tests for validation helpers
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/validation/common_test.go
 *
 *-------------------------------------------------------------------------
 */

package validation

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHTTPURL(t *testing.T) {
	assert.NoError(t, ValidateHTTPURL("https://hooks.example.com/in", "url"))
	assert.NoError(t, ValidateHTTPURL("http://localhost:8080", "url"))

	for _, bad := range []string{"", "ftp://example.com", "example.com/hook", "https://", "javascript:alert(1)"} {
		err := ValidateHTTPURL(bad, "url")
		require.Error(t, err, bad)
		assert.True(t, IsValidationError(err), bad)
	}
}

func TestValidateIntRange(t *testing.T) {
	assert.NoError(t, ValidateIntRange(0, 0, 10, "max_retries"))
	assert.NoError(t, ValidateIntRange(10, 0, 10, "max_retries"))
	err := ValidateIntRange(11, 0, 10, "max_retries")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
}

func TestIsValidationErrorThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create webhook: %w", Errorf("events", "at least one event is required"))
	assert.True(t, IsValidationError(err))
	assert.False(t, IsValidationError(fmt.Errorf("db down")))
}

func TestReadAndValidateBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader("12345"))
	body, err := ReadAndValidateBody(r, 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(body))

	r = httptest.NewRequest("POST", "/", strings.NewReader("123456"))
	_, err = ReadAndValidateBody(r, 5)
	assert.True(t, IsValidationError(err))
}

func TestValidatePagination(t *testing.T) {
	assert.NoError(t, ValidatePagination(50, 0))
	assert.Error(t, ValidatePagination(-1, 0))
	assert.Error(t, ValidatePagination(1001, 0))
	assert.Error(t, ValidatePagination(10, -5))
}
