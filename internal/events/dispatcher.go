/*-------------------------------------------------------------------------
 *
 * dispatcher.go
 *    Event publication and webhook fan-out
 *
 * Publish persists the envelope to the event log first; the log is the
 * durability guarantee and its failure fails the publish. Matching webhooks
 * are then scheduled concurrently, each in isolation, and the call returns
 * once every scheduling task has finished. Deliveries themselves run later.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/events/dispatcher.go
 *
 *-------------------------------------------------------------------------
 */

package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/validation"
)

const DefaultSource = "neurondb-ledger"

var tracer = otel.Tracer("github.com/neurondb/NeuronLedger/internal/events")

/* Store is the persistence the dispatcher needs */
type Store interface {
	InsertEventLog(ctx context.Context, e *db.EventLogEntry) error
	UpdateEventWebhookCount(ctx context.Context, id uuid.UUID, count int) error
	GetWebhooksForEvent(ctx context.Context, tenantID, eventType string, projectID, workflowID *string) ([]db.Webhook, error)
	ListEventLog(ctx context.Context, f db.EventFilter) ([]db.EventLogEntry, error)
}

/* DeliveryScheduler creates and queues one delivery for one webhook */
type DeliveryScheduler interface {
	Schedule(ctx context.Context, webhook *db.Webhook, eventType, eventID string, payload []byte) (*db.WebhookDelivery, error)
}

/* PublishRequest describes one event to publish */
type PublishRequest struct {
	EventType  EventType              `json:"event_type"`
	EventID    string                 `json:"event_id,omitempty"`
	Source     string                 `json:"source,omitempty"`
	TenantID   string                 `json:"tenant_id"`
	UserID     *string                `json:"user_id,omitempty"`
	ProjectID  *string                `json:"project_id,omitempty"`
	WorkflowID *string                `json:"workflow_id,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

/* Validate checks the request before anything is persisted */
func (r *PublishRequest) Validate() error {
	if !r.EventType.Valid() {
		return validation.Errorf("event_type", "unknown event type '%s'", r.EventType)
	}
	if err := validation.ValidateRequired(r.TenantID, "tenant_id"); err != nil {
		return err
	}
	if err := validation.ValidateMaxLength(r.EventID, "event_id", 255); err != nil {
		return err
	}
	return validation.ValidateMaxLength(r.Source, "source", 255)
}

/* Dispatcher publishes events to the log, live subscribers and webhooks */
type Dispatcher struct {
	store     Store
	scheduler DeliveryScheduler
	broker    *Broker
	inflight  sync.WaitGroup
	now       func() time.Time
}

/* NewDispatcher creates a dispatcher; broker may be nil */
func NewDispatcher(store Store, scheduler DeliveryScheduler, broker *Broker) *Dispatcher {
	return &Dispatcher{
		store:     store,
		scheduler: scheduler,
		broker:    broker,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

/* Broker returns the live subscriber broker, or nil */
func (d *Dispatcher) Broker() *Broker {
	return d.broker
}

/* Publish records the event and schedules one delivery per matching webhook */
func (d *Dispatcher) Publish(ctx context.Context, req PublishRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	ctx, span := tracer.Start(ctx, "events.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(req.EventType)),
		attribute.String("tenant.id", req.TenantID),
	)

	env := d.envelope(req)
	payload, err := env.Canonical()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	entry := &db.EventLogEntry{
		ID:         uuid.New(),
		TenantID:   env.TenantID,
		UserID:     env.UserID,
		EventType:  string(env.EventType),
		EventID:    env.EventID,
		Source:     env.Source,
		Payload:    types.JSONText(payload),
		ProjectID:  env.ProjectID,
		WorkflowID: env.WorkflowID,
		CreatedAt:  env.Timestamp,
	}
	if err := d.store.InsertEventLog(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event log insert failed")
		return 0, fmt.Errorf("event publish failed: event_type='%s', event_id='%s', tenant_id='%s', error=%w",
			env.EventType, env.EventID, env.TenantID, err)
	}

	if d.broker != nil {
		d.broker.Publish(ctx, env)
	}

	webhooks, err := d.store.GetWebhooksForEvent(ctx, env.TenantID, string(env.EventType), env.ProjectID, env.WorkflowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook lookup failed")
		return 0, fmt.Errorf("webhook lookup failed: event_type='%s', event_id='%s', tenant_id='%s', error=%w",
			env.EventType, env.EventID, env.TenantID, err)
	}
	if len(webhooks) == 0 {
		metrics.RecordEventPublished(string(env.EventType), 0)
		return 0, nil
	}

	/* Scheduling outlives the caller's request */
	scheduleCtx := context.WithoutCancel(ctx)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		scheduled int
	)
	for i := range webhooks {
		w := &webhooks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.scheduleOne(scheduleCtx, w, env, payload); err != nil {
				metrics.RecordDeliveryScheduleFailure()
				metrics.ErrorWithContext(scheduleCtx, "Webhook delivery scheduling failed", err, map[string]interface{}{
					"webhook_id": w.ID.String(),
					"event_type": string(env.EventType),
					"event_id":   env.EventID,
				})
				return
			}
			mu.Lock()
			scheduled++
			mu.Unlock()
		}()
	}
	wg.Wait()

	count := len(webhooks)
	if err := d.store.UpdateEventWebhookCount(scheduleCtx, entry.ID, count); err != nil {
		metrics.WarnWithContext(ctx, "Event webhook count update failed", map[string]interface{}{
			"event_log_id": entry.ID.String(),
			"error":        err.Error(),
		})
	}

	span.SetAttributes(attribute.Int("webhook.count", count), attribute.Int("webhook.scheduled", scheduled))
	metrics.RecordEventPublished(string(env.EventType), count)
	metrics.DebugWithContext(ctx, "Event published", map[string]interface{}{
		"event_type":    string(env.EventType),
		"event_id":      env.EventID,
		"webhook_count": count,
		"scheduled":     scheduled,
	})
	return count, nil
}

/* PublishAsync publishes in the background and logs any failure */
func (d *Dispatcher) PublishAsync(ctx context.Context, req PublishRequest, timeout time.Duration) {
	bg := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		pctx, cancel := context.WithTimeout(bg, timeout)
		defer cancel()
		if _, err := d.Publish(pctx, req); err != nil {
			metrics.ErrorWithContext(pctx, "Background event publish failed", err, map[string]interface{}{
				"event_type": string(req.EventType),
				"tenant_id":  req.TenantID,
			})
		}
	}()
}

/* Wait blocks until every PublishAsync call has finished */
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) scheduleOne(ctx context.Context, w *db.Webhook, env Envelope, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery scheduling panicked: webhook_id='%s', panic=%v", w.ID, r)
		}
	}()
	_, err = d.scheduler.Schedule(ctx, w, string(env.EventType), env.EventID, payload)
	return err
}

func (d *Dispatcher) envelope(req PublishRequest) Envelope {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = uuid.New().String()
	}
	source := req.Source
	if source == "" {
		source = DefaultSource
	}
	data := req.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return Envelope{
		EventType:  req.EventType,
		EventID:    eventID,
		Source:     source,
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		ProjectID:  req.ProjectID,
		WorkflowID: req.WorkflowID,
		Timestamp:  d.now(),
		Data:       data,
	}
}

/* ListEvents returns a tenant's event log, newest first */
func (d *Dispatcher) ListEvents(ctx context.Context, tenantID string, eventType *string, limit, offset int) ([]db.EventLogEntry, error) {
	if eventType != nil {
		if _, err := ParseEventType(*eventType); err != nil {
			return nil, err
		}
	}
	if limit == 0 {
		limit = 50
	}
	if err := validation.ValidatePagination(limit, offset); err != nil {
		return nil, err
	}
	entries, err := d.store.ListEventLog(ctx, db.EventFilter{
		TenantID:  tenantID,
		EventType: eventType,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("event log listing failed: tenant_id='%s', error=%w", tenantID, err)
	}
	return entries, nil
}
