/*-------------------------------------------------------------------------
 *
 * signing_test.go
 *    Tests for payload signing and backoff
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/webhooks/signing_test.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	body := []byte(`{"event_type":"task.completed"}`)
	assert.Equal(t,
		"sha256=9801c5de66ccbd231412ca83f7fd054ba9b8b661d21cc663c72b1068dcb5768b",
		Sign("abc", body))
}

func TestSignPayloadIsIndependentOfKeyOrder(t *testing.T) {
	a, sigA, err := SignPayload("abc", []byte(`{"b": 1, "a": {"d": 2, "c": "<x>"}}`))
	require.NoError(t, err)
	b, sigB, err := SignPayload("abc", []byte(`{"a":{"c":"<x>","d":2},"b":1}`))
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"c":"<x>","d":2},"b":1}`, string(a))
	assert.Equal(t, a, b)
	assert.Equal(t, sigA, sigB)
	assert.True(t, VerifySignature(a, sigA, "abc"))
}

func TestSignPayloadKeepsNumbersExact(t *testing.T) {
	body, _, err := SignPayload("k", []byte(`{"cost":0.00012345,"tokens":12345678901234}`))
	require.NoError(t, err)
	assert.Equal(t, `{"cost":0.00012345,"tokens":12345678901234}`, string(body))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	body := []byte(`{"event_type":"task.completed"}`)
	sig := Sign("abc", body)
	assert.False(t, VerifySignature([]byte(`{"event_type":"task.failed"}`), sig, "abc"))
	assert.False(t, VerifySignature(body, sig, "abd"))
	assert.False(t, VerifySignature(body, "sha256=", "abc"))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 60*time.Second, Backoff(60, 1))
	assert.Equal(t, 120*time.Second, Backoff(60, 2))
	assert.Equal(t, 240*time.Second, Backoff(60, 3))
	assert.Equal(t, 10*time.Second, Backoff(10, 0))
	assert.Equal(t, 60*time.Second, Backoff(0, 1))
}
