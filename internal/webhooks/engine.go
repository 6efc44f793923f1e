/*-------------------------------------------------------------------------
 *
 * engine.go
 *    Webhook delivery engine
 *
 * Schedule persists a pending delivery and hands its id to a bounded
 * in-process queue drained by a fixed pool of workers. When the queue is
 * full the delivery is parked as retrying and due immediately, so the
 * periodic sweep picks it up instead. Retries are never held in memory:
 * a failed attempt only writes next_retry_at and the sweep re-attempts it,
 * which keeps pending retries across restarts.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/webhooks/engine.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/utils"
)

const (
	maxResponseBodyChars = 1000
	maxErrorMessageChars = 500
	maxResponseRead      = 64 * 1024
	defaultRetryDelay    = 60
	defaultTimeout       = 30
	maxBackoffShift      = 16
)

/* Headers set by the engine; custom headers never replace them */
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-ID"
	HeaderEvent     = "X-Webhook-Event"
	HeaderAttempt   = "X-Webhook-Attempt"
)

/* storedResponseHeaders are the response headers kept on a delivery */
var storedResponseHeaders = []string{"Content-Type", "Content-Length", "Date", "Server", "Retry-After", "X-Request-Id"}

var tracer = otel.Tracer("github.com/neurondb/NeuronLedger/internal/webhooks")

/* Store is the persistence the engine needs */
type Store interface {
	CreateWebhookDelivery(ctx context.Context, d *db.WebhookDelivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*db.WebhookDelivery, error)
	GetWebhookByID(ctx context.Context, id uuid.UUID) (*db.Webhook, error)
	BeginDeliveryAttempt(ctx context.Context, id uuid.UUID, claim db.DeliveryClaim) (*db.WebhookDelivery, error)
	CompleteDeliveryAttempt(ctx context.Context, id uuid.UUID, out db.DeliveryOutcome) error
	ScheduleDeliveryRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) (bool, error)
	ParkDelivery(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordWebhookResult(ctx context.Context, id uuid.UUID, success bool, at time.Time) error
}

/* AttemptResult describes the outcome of one delivery attempt */
type AttemptResult struct {
	DeliveryID     uuid.UUID  `json:"delivery_id"`
	Attempt        int        `json:"attempt"`
	Success        bool       `json:"success"`
	Status         string     `json:"status"`
	HTTPStatusCode *int       `json:"http_status_code,omitempty"`
	Error          string     `json:"error,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
}

/* Engine delivers webhook payloads */
type Engine struct {
	store     Store
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	lease     time.Duration
	workers   int
	queue     chan uuid.UUID
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

/* NewEngine creates a delivery engine; call Start to run its workers */
func NewEngine(store Store, cfg config.WebhookConfig) *Engine {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	lease := cfg.ClaimLease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "NeuronLedger-Webhooks/1.0"
	}

	return &Engine{
		store: store,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			/* never follow redirects; a 3xx is a failed delivery */
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter:   limiter,
		userAgent: userAgent,
		lease:     lease,
		workers:   workers,
		queue:     make(chan uuid.UUID, queueSize),
		stop:      make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

/* Start starts the delivery workers */
func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

/* Stop stops the workers after their current attempt; queued ids stay pending in the database */
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case id := <-e.queue:
			metrics.SetDeliveryQueueDepth(len(e.queue))
			if _, err := e.Attempt(context.Background(), id); err != nil {
				metrics.ErrorWithContext(context.Background(), "Webhook delivery attempt failed", err, map[string]interface{}{
					"delivery_id": id.String(),
				})
			}
		}
	}
}

/* Schedule records a pending delivery of payload to w and queues it */
func (e *Engine) Schedule(ctx context.Context, w *db.Webhook, eventType, eventID string, payload []byte) (*db.WebhookDelivery, error) {
	d := &db.WebhookDelivery{
		ID:          uuid.New(),
		WebhookID:   w.ID,
		TenantID:    w.TenantID,
		EventType:   eventType,
		EventID:     eventID,
		Payload:     types.JSONText(payload),
		Status:      db.DeliveryPending,
		Attempts:    0,
		MaxAttempts: w.MaxAttempts(),
		ScheduledAt: e.now(),
	}
	if err := e.store.CreateWebhookDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("webhook delivery creation failed: webhook_id='%s', event_id='%s', error=%w", w.ID, eventID, err)
	}

	if !e.Enqueue(d.ID) {
		if err := e.store.ParkDelivery(ctx, d.ID, e.now()); err != nil {
			return nil, fmt.Errorf("webhook delivery parking failed: delivery_id='%s', error=%w", d.ID, err)
		}
		d.Status = db.DeliveryRetrying
		metrics.WarnWithContext(ctx, "Webhook delivery queue is full, deferring to retry sweep", map[string]interface{}{
			"delivery_id": d.ID.String(),
			"webhook_id":  w.ID.String(),
		})
	}
	return d, nil
}

/* Enqueue queues a delivery id without blocking; false when the queue is full */
func (e *Engine) Enqueue(id uuid.UUID) bool {
	select {
	case e.queue <- id:
		metrics.SetDeliveryQueueDepth(len(e.queue))
		return true
	default:
		return false
	}
}

/*
 * Attempt performs one delivery attempt under a fresh claim. It returns nil
 * without error when the delivery is not eligible: already terminal, out of
 * attempts, leased to another worker, or its webhook is gone or inactive.
 */
func (e *Engine) Attempt(ctx context.Context, deliveryID uuid.UUID) (*AttemptResult, error) {
	return e.attempt(ctx, deliveryID, db.NewDeliveryClaim(e.now(), e.lease))
}

/* AttemptClaimed performs one attempt on a delivery already leased under claim */
func (e *Engine) AttemptClaimed(ctx context.Context, deliveryID uuid.UUID, claim db.DeliveryClaim) (*AttemptResult, error) {
	claim.Now = e.now()
	claim.Until = claim.Now.Add(e.lease)
	return e.attempt(ctx, deliveryID, claim)
}

func (e *Engine) attempt(ctx context.Context, deliveryID uuid.UUID, claim db.DeliveryClaim) (*AttemptResult, error) {
	current, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	w, err := e.store.GetWebhookByID(ctx, current.WebhookID)
	if err != nil {
		return nil, err
	}
	if w == nil || !w.IsActive {
		return nil, nil
	}

	d, err := e.store.BeginDeliveryAttempt(ctx, deliveryID, claim)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}

	ctx = metrics.WithWebhookLogContext(ctx, w.ID, d.ID)
	ctx, span := tracer.Start(ctx, "webhooks.Attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.id", w.ID.String()),
		attribute.String("delivery.id", d.ID.String()),
		attribute.String("event.type", d.EventType),
		attribute.Int("delivery.attempt", d.Attempts),
	)

	start := time.Now()
	out := e.post(ctx, w, d)

	if err := e.store.CompleteDeliveryAttempt(ctx, d.ID, out); err != nil {
		return nil, err
	}
	if err := e.store.RecordWebhookResult(ctx, w.ID, out.Success, out.At); err != nil {
		metrics.WarnWithContext(ctx, "Webhook counter update failed", map[string]interface{}{"error": err.Error()})
	}

	result := &AttemptResult{
		DeliveryID:     d.ID,
		Attempt:        d.Attempts,
		Success:        out.Success,
		HTTPStatusCode: out.HTTPStatusCode,
	}
	if out.ErrorMessage != nil {
		result.Error = *out.ErrorMessage
	}

	if out.Success {
		result.Status = db.DeliveryDelivered
		metrics.RecordDeliveryAttempt(d.EventType, db.DeliveryDelivered, time.Since(start))
		metrics.DebugWithContext(ctx, "Webhook delivered", map[string]interface{}{
			"attempt":     d.Attempts,
			"status_code": *out.HTTPStatusCode,
		})
		return result, nil
	}

	span.SetAttributes(attribute.Bool("delivery.failed", true))
	result.Status = db.DeliveryFailed
	if d.Attempts < d.MaxAttempts {
		next := e.now().Add(Backoff(w.RetryDelaySeconds, d.Attempts))
		scheduled, err := e.store.ScheduleDeliveryRetry(ctx, d.ID, next)
		if err != nil {
			return nil, err
		}
		if scheduled {
			result.Status = db.DeliveryRetrying
			result.NextRetryAt = &next
		}
		metrics.RecordDeliveryAttempt(d.EventType, db.DeliveryRetrying, time.Since(start))
		metrics.InfoWithContext(ctx, "Webhook delivery failed, retry scheduled", map[string]interface{}{
			"attempt":       d.Attempts,
			"max_attempts":  d.MaxAttempts,
			"next_retry_at": next.Format(time.RFC3339),
			"error":         result.Error,
		})
		return result, nil
	}

	metrics.RecordDeliveryAttempt(d.EventType, db.DeliveryFailed, time.Since(start))
	metrics.WarnWithContext(ctx, "Webhook delivery failed permanently, retries exhausted", map[string]interface{}{
		"attempts": d.Attempts,
		"error":    result.Error,
	})
	return result, nil
}

/* post sends one signed request and converts the response into an outcome */
func (e *Engine) post(ctx context.Context, w *db.Webhook, d *db.WebhookDelivery) db.DeliveryOutcome {
	fail := func(format string, args ...interface{}) db.DeliveryOutcome {
		msg := utils.Truncate(utils.SanitizeText(fmt.Sprintf(format, args...)), maxErrorMessageChars)
		return db.DeliveryOutcome{Success: false, ErrorMessage: &msg, At: e.now()}
	}

	body, signature, err := SignPayload(w.SecretKey, d.Payload)
	if err != nil {
		return fail("payload encoding failed: %v", err)
	}

	timeout := w.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	if err := e.limiter.Wait(reqCtx); err != nil {
		return fail("rate limiter wait failed: %v", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fail("request creation failed: %v", err)
	}
	for k, v := range w.CustomHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderID, d.ID.String())
	req.Header.Set(HeaderEvent, d.EventType)
	req.Header.Set(HeaderAttempt, strconv.Itoa(d.Attempts))

	resp, err := e.client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	respBody := utils.Truncate(utils.SanitizeText(string(raw)), maxResponseBodyChars)
	code := resp.StatusCode

	headers := db.StringMap{}
	for _, name := range storedResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			headers[name] = utils.Truncate(utils.SanitizeText(v), 256)
		}
	}

	out := db.DeliveryOutcome{
		Success:         code >= 200 && code < 300,
		HTTPStatusCode:  &code,
		ResponseBody:    &respBody,
		ResponseHeaders: headers,
		At:              e.now(),
	}
	if !out.Success {
		msg := fmt.Sprintf("HTTP %d", code)
		out.ErrorMessage = &msg
	}
	return out
}

/* Backoff returns base * 2^(attempts-1) seconds; base defaults to 60 */
func Backoff(baseSeconds, attempts int) time.Duration {
	if baseSeconds <= 0 {
		baseSeconds = defaultRetryDelay
	}
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return time.Duration(baseSeconds) * time.Second * time.Duration(1<<uint(shift))
}
