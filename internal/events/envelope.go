/*-------------------------------------------------------------------------
 *
 * envelope.go
 *    Event envelope and canonical JSON encoding
 *
 * Canonical JSON is compact, has object keys sorted at every depth, keeps
 * numbers exactly as written and does not HTML-escape. The same bytes are
 * signed and sent, so a consumer can verify the signature over the raw body.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/events/envelope.go
 *
 *-------------------------------------------------------------------------
 */

package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

/* Envelope is the structure persisted and delivered for every event */
type Envelope struct {
	EventType  EventType              `json:"event_type"`
	EventID    string                 `json:"event_id"`
	Source     string                 `json:"source"`
	TenantID   string                 `json:"tenant_id"`
	UserID     *string                `json:"user_id"`
	ProjectID  *string                `json:"project_id"`
	WorkflowID *string                `json:"workflow_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data"`
}

/* Canonical returns the canonical JSON encoding of the envelope */
func (e *Envelope) Canonical() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event envelope encoding failed: event_type='%s', event_id='%s', error=%w", e.EventType, e.EventID, err)
	}
	return CanonicalJSON(raw)
}

/* CanonicalJSON re-encodes a JSON document in canonical form */
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical json decode failed: error=%w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonical json decode failed: trailing data after document")
	}

	/* encoding/json writes map keys in sorted order */
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical json encode failed: error=%w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
