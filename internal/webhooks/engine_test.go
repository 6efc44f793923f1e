/*-------------------------------------------------------------------------
 *
 * engine_test.go
 *    Tests for webhook delivery and the retry sweep
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/webhooks/engine_test.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/db"
	ledgertesting "github.com/neurondb/NeuronLedger/internal/testing"
	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

const testSecret = "abc"

func putWebhook(store *ledgertesting.MemStore, url string, maxRetries int) db.Webhook {
	w := db.Webhook{
		ID:                uuid.New(),
		TenantID:          "tenant-1",
		UserID:            "user-1",
		Name:              "receiver",
		URL:               url,
		Events:            pq.StringArray{"task.completed"},
		SecretKey:         testSecret,
		MaxRetries:        maxRetries,
		RetryDelaySeconds: 60,
		TimeoutSeconds:    5,
		CustomHeaders:     db.StringMap{"X-Team": "ledger"},
		IsActive:          true,
	}
	store.PutWebhook(w)
	return w
}

func engineConfig() config.WebhookConfig {
	return config.DefaultConfig().Webhooks
}

type receiver struct {
	mu      sync.Mutex
	hits    int32
	headers []http.Header
	bodies  [][]byte
}

func (rc *receiver) handler(status int, respBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.headers = append(rc.headers, r.Header.Clone())
		rc.bodies = append(rc.bodies, body)
		rc.mu.Unlock()
		atomic.AddInt32(&rc.hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}
}

func TestAttemptSuccessSignsAndMarksDelivered(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusOK, "ok"))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 3)
	engine := webhooks.NewEngine(store, engineConfig())
	ctx := context.Background()

	d, err := engine.Schedule(ctx, &w, "task.completed", "evt-1", []byte(`{"event_type":"task.completed","data":{"b":2,"a":1}}`))
	require.NoError(t, err)

	res, err := engine.Attempt(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, db.DeliveryDelivered, res.Status)

	require.Len(t, rc.bodies, 1)
	body := rc.bodies[0]
	h := rc.headers[0]
	assert.Equal(t, `{"data":{"a":1,"b":2},"event_type":"task.completed"}`, string(body))
	assert.True(t, webhooks.VerifySignature(body, h.Get(webhooks.HeaderSignature), testSecret))
	assert.Equal(t, d.ID.String(), h.Get(webhooks.HeaderID))
	assert.Equal(t, "task.completed", h.Get(webhooks.HeaderEvent))
	assert.Equal(t, "1", h.Get(webhooks.HeaderAttempt))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "ledger", h.Get("X-Team"))
	assert.NotEmpty(t, h.Get("User-Agent"))

	stored, _ := store.Delivery(d.ID)
	assert.Equal(t, db.DeliveryDelivered, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.HTTPStatusCode)
	assert.Equal(t, 200, *stored.HTTPStatusCode)
	assert.Nil(t, stored.NextRetryAt)

	hook, _ := store.Webhook(w.ID)
	assert.Equal(t, int64(1), hook.SuccessfulDeliveries)
	assert.Equal(t, int64(1), hook.TotalDeliveries)
	assert.True(t, hook.IsVerified)
}

func TestThreeServerErrorsEndInTerminalFailure(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusInternalServerError, "boom"))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 3)
	engine := webhooks.NewEngine(store, engineConfig())
	ctx := context.Background()

	d, err := engine.Schedule(ctx, &w, "task.completed", "evt-2", []byte(`{"event_type":"task.completed"}`))
	require.NoError(t, err)

	before := time.Now().UTC()
	res, err := engine.Attempt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DeliveryRetrying, res.Status)
	require.NotNil(t, res.NextRetryAt)
	assert.WithinDuration(t, before.Add(60*time.Second), *res.NextRetryAt, 5*time.Second)

	res, err = engine.Attempt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DeliveryRetrying, res.Status)
	assert.WithinDuration(t, before.Add(120*time.Second), *res.NextRetryAt, 5*time.Second)

	res, err = engine.Attempt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DeliveryFailed, res.Status)
	assert.Nil(t, res.NextRetryAt)

	/* a terminal delivery is never attempted again */
	res, err = engine.Attempt(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, res)

	stored, _ := store.Delivery(d.ID)
	assert.Equal(t, db.DeliveryFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Nil(t, stored.NextRetryAt)
	require.NotNil(t, stored.HTTPStatusCode)
	assert.Equal(t, 500, *stored.HTTPStatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&rc.hits))

	hook, _ := store.Webhook(w.ID)
	assert.Equal(t, int64(3), hook.FailedDeliveries)
	assert.Equal(t, int64(0), hook.SuccessfulDeliveries)
}

func TestZeroMaxRetriesStillAttemptsOnce(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusBadGateway, ""))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 0)
	engine := webhooks.NewEngine(store, engineConfig())

	d, err := engine.Schedule(context.Background(), &w, "task.completed", "evt-0", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 1, d.MaxAttempts)

	res, err := engine.Attempt(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DeliveryFailed, res.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rc.hits))
}

func TestResponseBodyIsTruncated(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusBadRequest, strings.Repeat("x", 5000)))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 1)
	engine := webhooks.NewEngine(store, engineConfig())

	d, err := engine.Schedule(context.Background(), &w, "task.completed", "evt-3", []byte(`{}`))
	require.NoError(t, err)
	_, err = engine.Attempt(context.Background(), d.ID)
	require.NoError(t, err)

	stored, _ := store.Delivery(d.ID)
	require.NotNil(t, stored.ResponseBody)
	assert.Len(t, *stored.ResponseBody, 1000)
}

func TestNetworkErrorIsCaptured(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, url, 2)
	engine := webhooks.NewEngine(store, engineConfig())

	d, err := engine.Schedule(context.Background(), &w, "task.completed", "evt-4", []byte(`{}`))
	require.NoError(t, err)
	res, err := engine.Attempt(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DeliveryRetrying, res.Status)

	stored, _ := store.Delivery(d.ID)
	assert.Nil(t, stored.HTTPStatusCode)
	require.NotNil(t, stored.ErrorMessage)
	assert.LessOrEqual(t, len(*stored.ErrorMessage), 500)
	assert.Contains(t, *stored.ErrorMessage, "request failed")
}

func TestScheduleParksWhenQueueIsFull(t *testing.T) {
	store := ledgertesting.NewMemStore()
	w := putWebhook(store, "http://127.0.0.1:1/hook", 3)
	cfg := engineConfig()
	cfg.QueueSize = 1
	engine := webhooks.NewEngine(store, cfg)

	first, err := engine.Schedule(context.Background(), &w, "task.completed", "evt-5", []byte(`{}`))
	require.NoError(t, err)
	second, err := engine.Schedule(context.Background(), &w, "task.completed", "evt-6", []byte(`{}`))
	require.NoError(t, err)

	d1, _ := store.Delivery(first.ID)
	d2, _ := store.Delivery(second.ID)
	assert.Equal(t, db.DeliveryPending, d1.Status)
	assert.Equal(t, db.DeliveryRetrying, d2.Status)
	require.NotNil(t, d2.NextRetryAt)
	assert.Equal(t, 0, d2.Attempts)
}

func TestWorkersDeliverScheduledEvents(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusNoContent, ""))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 3)
	engine := webhooks.NewEngine(store, engineConfig())
	engine.Start()
	defer engine.Stop()

	d, err := engine.Schedule(context.Background(), &w, "task.completed", "evt-7", []byte(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, _ := store.Delivery(d.ID)
		return stored.Status == db.DeliveryDelivered
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSweepAttemptsDueRetries(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusOK, ""))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	active := putWebhook(store, srv.URL, 3)
	inactive := putWebhook(store, srv.URL, 3)
	inactive.IsActive = false
	store.PutWebhook(inactive)

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	due := retryingDelivery(active, &past)
	notYet := retryingDelivery(active, &future)
	paused := retryingDelivery(inactive, &past)
	for _, d := range []db.WebhookDelivery{due, notYet, paused} {
		store.PutDelivery(d)
	}

	engine := webhooks.NewEngine(store, engineConfig())
	sweeper := webhooks.NewSweeper(store, engine, engineConfig())

	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rc.hits))

	got, _ := store.Delivery(due.ID)
	assert.Equal(t, db.DeliveryDelivered, got.Status)
	assert.Equal(t, 2, got.Attempts)

	got, _ = store.Delivery(notYet.ID)
	assert.Equal(t, db.DeliveryRetrying, got.Status)
	got, _ = store.Delivery(paused.ID)
	assert.Equal(t, db.DeliveryRetrying, got.Status)

	n, err = sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func retryingDelivery(w db.Webhook, next *time.Time) db.WebhookDelivery {
	return db.WebhookDelivery{
		ID:          uuid.New(),
		WebhookID:   w.ID,
		TenantID:    w.TenantID,
		EventType:   "task.completed",
		EventID:     uuid.NewString(),
		Payload:     []byte(`{"event_type":"task.completed"}`),
		Status:      db.DeliveryRetrying,
		Attempts:    1,
		MaxAttempts: 3,
		ScheduledAt: time.Now().UTC().Add(-2 * time.Minute),
		NextRetryAt: next,
	}
}

/* gated records the request, then holds the response until release is closed */
func (rc *receiver) gated(status int, release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		atomic.AddInt32(&rc.hits, 1)
		<-release
		w.WriteHeader(status)
	}
}

func TestQueuedAttemptSkipsDeliveryLeasedBySweep(t *testing.T) {
	rc := &receiver{}
	release := make(chan struct{})
	srv := httptest.NewServer(rc.gated(http.StatusOK, release))
	defer srv.Close()
	defer close(release)

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 3)
	past := time.Now().UTC().Add(-time.Minute)
	d := retryingDelivery(w, &past)
	store.PutDelivery(d)

	engine := webhooks.NewEngine(store, engineConfig())
	sweeper := webhooks.NewSweeper(store, engine, engineConfig())

	swept := make(chan error, 1)
	go func() {
		_, err := sweeper.SweepOnce(context.Background())
		swept <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&rc.hits) == 1 }, 5*time.Second, 10*time.Millisecond)

	res, err := engine.Attempt(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, res)

	release <- struct{}{}
	require.NoError(t, <-swept)

	assert.Equal(t, int32(1), atomic.LoadInt32(&rc.hits))
	got, _ := store.Delivery(d.ID)
	assert.Equal(t, db.DeliveryDelivered, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestRedeliverRacingSweepPostsOnce(t *testing.T) {
	rc := &receiver{}
	release := make(chan struct{})
	srv := httptest.NewServer(rc.gated(http.StatusInternalServerError, release))
	defer srv.Close()
	defer close(release)

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 2)
	failed := retryingDelivery(w, nil)
	failed.Status = db.DeliveryFailed
	failed.Attempts = 3
	store.PutDelivery(failed)

	engine := webhooks.NewEngine(store, engineConfig())
	reg := webhooks.NewRegistry(store, engine)
	sweeper := webhooks.NewSweeper(store, engine, engineConfig())
	ctx := context.Background()

	_, found, err := reg.Redeliver(ctx, w.ID, failed.ID, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)

	swept := make(chan error, 1)
	go func() {
		_, err := sweeper.SweepOnce(ctx)
		swept <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&rc.hits) == 1 }, 5*time.Second, 10*time.Millisecond)

	/* the id Redeliver queued reaches a worker while the sweep is still posting */
	res, err := engine.Attempt(ctx, failed.ID)
	require.NoError(t, err)
	assert.Nil(t, res)

	release <- struct{}{}
	require.NoError(t, <-swept)

	res, err = engine.Attempt(ctx, failed.ID)
	require.NoError(t, err)
	assert.Nil(t, res)

	assert.Equal(t, int32(1), atomic.LoadInt32(&rc.hits))
	got, _ := store.Delivery(failed.ID)
	assert.Equal(t, db.DeliveryFailed, got.Status)
	assert.Equal(t, 4, got.Attempts)
	assert.Equal(t, 4, got.MaxAttempts)
}

func TestAttemptRefusesExhaustedDelivery(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusOK, ""))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 2)
	past := time.Now().UTC().Add(-time.Minute)
	d := retryingDelivery(w, &past)
	d.Attempts = 3
	store.PutDelivery(d)

	res, err := webhooks.NewEngine(store, engineConfig()).Attempt(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, atomic.LoadInt32(&rc.hits))

	got, _ := store.Delivery(d.ID)
	assert.Equal(t, 3, got.Attempts)
}

func TestBinaryResponseBodyIsStoredAsValidText(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(http.StatusOK, "ack\x00\xff\xfe\x89PNG"))
	defer srv.Close()

	store := ledgertesting.NewMemStore()
	w := putWebhook(store, srv.URL, 3)
	engine := webhooks.NewEngine(store, engineConfig())
	ctx := context.Background()

	d, err := engine.Schedule(ctx, &w, "task.completed", "evt-bin", []byte(`{"event_type":"task.completed"}`))
	require.NoError(t, err)

	res, err := engine.Attempt(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)

	stored, _ := store.Delivery(d.ID)
	assert.Equal(t, db.DeliveryDelivered, stored.Status)
	require.NotNil(t, stored.ResponseBody)
	assert.True(t, utf8.ValidString(*stored.ResponseBody))
	assert.NotContains(t, *stored.ResponseBody, "\x00")
	assert.True(t, strings.HasPrefix(*stored.ResponseBody, "ack"))
}
