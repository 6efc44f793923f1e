/*-------------------------------------------------------------------------
 *
 * broker.go
 *    In-process fan-out of published events to live subscribers
 *
 * Subscribers are tenant scoped and receive envelopes on a buffered
 * channel. A subscriber that falls behind loses events rather than
 * blocking publication; webhooks remain the durable delivery path.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/events/broker.go
 *
 *-------------------------------------------------------------------------
 */

package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/neurondb/NeuronLedger/internal/metrics"
)

type subscriber struct {
	tenantID string
	ch       chan Envelope
}

/* Broker manages live event subscribers */
type Broker struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
}

/* NewBroker creates a new event broker */
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[uuid.UUID]*subscriber)}
}

/* Subscribe registers a tenant subscriber; call the returned func to unsubscribe */
func (b *Broker) Subscribe(tenantID string, buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.New()
	sub := &subscriber{tenantID: tenantID, ch: make(chan Envelope, buffer)}

	b.mu.Lock()
	b.subscribers[id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventStreamSubscribers(count)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			count := len(b.subscribers)
			b.mu.Unlock()
			close(sub.ch)
			metrics.SetEventStreamSubscribers(count)
		})
	}
}

/* Publish delivers env to every subscriber of its tenant without blocking */
func (b *Broker) Publish(ctx context.Context, env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.tenantID != env.TenantID {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			metrics.WarnWithContext(ctx, "Event stream subscriber is full, dropping event", map[string]interface{}{
				"event_type": string(env.EventType),
				"event_id":   env.EventID,
			})
		}
	}
}

/* SubscriberCount returns the number of live subscribers */
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
