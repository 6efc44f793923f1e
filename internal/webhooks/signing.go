/*-------------------------------------------------------------------------
 *
 * signing.go
 *    HMAC-SHA256 signatures for webhook payloads
 *
 * The signature header is "sha256=" followed by the hex HMAC of the exact
 * request body, keyed with the webhook secret. Bodies are canonical JSON
 * so the same event always produces the same signature.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/webhooks/signing.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/neurondb/NeuronLedger/internal/events"
)

const (
	signaturePrefix = "sha256="
	secretBytes     = 32
)

/* Sign returns the signature header value for body */
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

/* VerifySignature reports whether signature matches body under secret */
func VerifySignature(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}

/* SignPayload canonicalizes payload and signs it, returning the body to send */
func SignPayload(secret string, payload []byte) ([]byte, string, error) {
	body, err := events.CanonicalJSON(payload)
	if err != nil {
		return nil, "", err
	}
	return body, Sign(secret, body), nil
}

/* GenerateSecret returns 32 random bytes, hex encoded */
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("webhook secret generation failed: error=%w", err)
	}
	return hex.EncodeToString(b), nil
}
