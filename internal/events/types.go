/*-------------------------------------------------------------------------
 *
 * types.go
 *    Event types delivered to webhook subscribers
 *
 * The wire values are a stable contract with external consumers.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/events/types.go
 *
 *-------------------------------------------------------------------------
 */

package events

import (
	"github.com/neurondb/NeuronLedger/internal/validation"
)

/* EventType represents a webhook event type */
type EventType string

const (
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
	EventBudgetWarning     EventType = "budget.warning"
	EventBudgetExceeded    EventType = "budget.exceeded"
	EventBudgetCritical    EventType = "budget.critical"
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalApproved  EventType = "approval.approved"
	EventApprovalRejected  EventType = "approval.rejected"
	EventAgentError        EventType = "agent.error"
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
)

var allEventTypes = []EventType{
	EventTaskStarted,
	EventTaskCompleted,
	EventTaskFailed,
	EventBudgetWarning,
	EventBudgetExceeded,
	EventBudgetCritical,
	EventApprovalRequested,
	EventApprovalApproved,
	EventApprovalRejected,
	EventAgentError,
	EventWorkflowStarted,
	EventWorkflowCompleted,
	EventWorkflowFailed,
}

var knownEventTypes = func() map[EventType]bool {
	m := make(map[EventType]bool, len(allEventTypes))
	for _, t := range allEventTypes {
		m[t] = true
	}
	return m
}()

/* AllEventTypes returns every event type in declaration order */
func AllEventTypes() []EventType {
	out := make([]EventType, len(allEventTypes))
	copy(out, allEventTypes)
	return out
}

/* Valid reports whether t is a known event type */
func (t EventType) Valid() bool {
	return knownEventTypes[t]
}

/* ParseEventType converts a wire value into an EventType */
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", validation.Errorf("event_type", "unknown event type '%s'", s)
	}
	return t, nil
}

/* BudgetEventType maps a budget alert type to its event */
func BudgetEventType(alertType string) (EventType, bool) {
	switch alertType {
	case "warning":
		return EventBudgetWarning, true
	case "critical":
		return EventBudgetCritical, true
	case "exceeded":
		return EventBudgetExceeded, true
	}
	return "", false
}
