/*-------------------------------------------------------------------------
 *
 * envelope_test.go
 *    Tests for event envelopes and the live broker
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/events/envelope_test.go
 *
 *-------------------------------------------------------------------------
 */

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeysAndKeepsNumbers(t *testing.T) {
	out, err := CanonicalJSON([]byte(`{"b": 1, "a": {"z": 0.10, "y": 12345678901234567890}, "c": "<x>"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":12345678901234567890,"z":0.10},"b":1,"c":"<x>"}`, string(out))
}

func TestCanonicalJSONRejectsTrailingData(t *testing.T) {
	_, err := CanonicalJSON([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestEnvelopeKeepsNullScopes(t *testing.T) {
	env := Envelope{
		EventType: EventTaskCompleted,
		EventID:   "evt-1",
		Source:    DefaultSource,
		TenantID:  "tenant-1",
		Timestamp: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Data:      map[string]interface{}{"task_id": "t-1"},
	}
	out, err := env.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"data":{"task_id":"t-1"},"event_id":"evt-1","event_type":"task.completed","project_id":null,`+
			`"source":"neurondb-ledger","tenant_id":"tenant-1","timestamp":"2026-10-18T12:00:00Z","user_id":null,"workflow_id":null}`,
		string(out))
}

func TestParseEventType(t *testing.T) {
	et, err := ParseEventType("budget.exceeded")
	require.NoError(t, err)
	assert.Equal(t, EventBudgetExceeded, et)

	_, err = ParseEventType("budget.exploded")
	assert.Error(t, err)
	assert.Len(t, AllEventTypes(), 13)
}

func TestBudgetEventType(t *testing.T) {
	et, ok := BudgetEventType("critical")
	require.True(t, ok)
	assert.Equal(t, EventBudgetCritical, et)

	_, ok = BudgetEventType("mild")
	assert.False(t, ok)
}

func TestBrokerIsTenantScoped(t *testing.T) {
	b := NewBroker()
	ch1, unsub1 := b.Subscribe("tenant-1", 4)
	ch2, unsub2 := b.Subscribe("tenant-2", 4)
	defer unsub2()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(context.Background(), Envelope{EventType: EventTaskFailed, EventID: "e1", TenantID: "tenant-1"})

	select {
	case env := <-ch1:
		assert.Equal(t, "e1", env.EventID)
	case <-time.After(time.Second):
		t.Fatal("tenant-1 subscriber received nothing")
	}
	select {
	case env := <-ch2:
		t.Fatalf("tenant-2 received %s", env.EventID)
	default:
	}

	unsub1()
	unsub1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe("tenant-1", 1)
	defer unsub()

	b.Publish(context.Background(), Envelope{EventID: "first", TenantID: "tenant-1"})
	b.Publish(context.Background(), Envelope{EventID: "second", TenantID: "tenant-1"})

	env := <-ch
	assert.Equal(t, "first", env.EventID)
	assert.Len(t, ch, 0)
}
