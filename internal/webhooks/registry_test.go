/*-------------------------------------------------------------------------
 *
 * registry_test.go
 *    Tests for webhook management
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/webhooks/registry_test.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurondb/NeuronLedger/internal/db"
	ledgertesting "github.com/neurondb/NeuronLedger/internal/testing"
	"github.com/neurondb/NeuronLedger/internal/validation"
	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

func validInput() webhooks.CreateWebhookInput {
	return webhooks.CreateWebhookInput{
		TenantID: "tenant-1",
		UserID:   "user-1",
		Name:     "billing alerts",
		URL:      "https://hooks.example.com/ledger",
		Events:   []string{"budget.exceeded", "task.completed"},
	}
}

func intPtr(v int) *int { return &v }

func TestCreateAppliesDefaultsAndReturnsSecret(t *testing.T) {
	store := ledgertesting.NewMemStore()
	reg := webhooks.NewRegistry(store, nil)

	created, err := reg.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Len(t, created.Secret, 64)
	assert.Equal(t, created.Secret, created.SecretKey)
	assert.Equal(t, webhooks.DefaultMaxRetries, created.MaxRetries)
	assert.Equal(t, webhooks.DefaultRetryDelaySeconds, created.RetryDelaySeconds)
	assert.Equal(t, webhooks.DefaultTimeoutSeconds, created.TimeoutSeconds)
	assert.True(t, created.IsActive)

	stored, ok := store.Webhook(created.ID)
	require.True(t, ok)
	assert.Equal(t, created.Secret, stored.SecretKey)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	cases := map[string]func(in *webhooks.CreateWebhookInput){
		"ftp scheme":         func(in *webhooks.CreateWebhookInput) { in.URL = "ftp://example.com/hook" },
		"no scheme":          func(in *webhooks.CreateWebhookInput) { in.URL = "example.com/hook" },
		"no events":          func(in *webhooks.CreateWebhookInput) { in.Events = nil },
		"unknown event":      func(in *webhooks.CreateWebhookInput) { in.Events = []string{"task.exploded"} },
		"duplicate event":    func(in *webhooks.CreateWebhookInput) { in.Events = []string{"task.failed", "task.failed"} },
		"missing name":       func(in *webhooks.CreateWebhookInput) { in.Name = "  " },
		"too many retries":   func(in *webhooks.CreateWebhookInput) { in.MaxRetries = intPtr(11) },
		"short retry delay":  func(in *webhooks.CreateWebhookInput) { in.RetryDelaySeconds = intPtr(5) },
		"long timeout":       func(in *webhooks.CreateWebhookInput) { in.TimeoutSeconds = intPtr(121) },
		"reserved header":    func(in *webhooks.CreateWebhookInput) { in.CustomHeaders = map[string]string{"x-webhook-signature": "forged"} },
		"reserved header id": func(in *webhooks.CreateWebhookInput) { in.CustomHeaders = map[string]string{"X-WEBHOOK-ID": "forged"} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			store := ledgertesting.NewMemStore()
			reg := webhooks.NewRegistry(store, nil)
			in := validInput()
			mutate(&in)

			_, err := reg.Create(context.Background(), in)
			require.Error(t, err)
			assert.True(t, validation.IsValidationError(err), "got %v", err)

			list, err := reg.List(context.Background(), "tenant-1", nil, 10, 0)
			require.NoError(t, err)
			assert.Zero(t, list.Total)
		})
	}
}

func TestWebhookNamesAreUniquePerTenant(t *testing.T) {
	store := ledgertesting.NewMemStore()
	reg := webhooks.NewRegistry(store, nil)
	ctx := context.Background()

	first, err := reg.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = reg.Create(ctx, validInput())
	require.Error(t, err)
	assert.True(t, validation.IsValidationError(err), "got %v", err)

	other := validInput()
	other.TenantID = "tenant-2"
	_, err = reg.Create(ctx, other)
	require.NoError(t, err)

	in := validInput()
	in.Name = "second"
	second, err := reg.Create(ctx, in)
	require.NoError(t, err)

	_, _, err = reg.Update(ctx, second.ID, "tenant-1", webhooks.UpdateWebhookInput{Name: &first.Name})
	assert.True(t, validation.IsValidationError(err), "got %v", err)
}

func TestTenantIsolation(t *testing.T) {
	store := ledgertesting.NewMemStore()
	reg := webhooks.NewRegistry(store, nil)
	ctx := context.Background()

	created, err := reg.Create(ctx, validInput())
	require.NoError(t, err)

	_, found, err := reg.Get(ctx, created.ID, "tenant-2")
	require.NoError(t, err)
	assert.False(t, found)

	name := "hijacked"
	_, found, err = reg.Update(ctx, created.ID, "tenant-2", webhooks.UpdateWebhookInput{Name: &name})
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err := reg.Delete(ctx, created.ID, "tenant-2")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, found, err = reg.RegenerateSecret(ctx, created.ID, "tenant-2")
	require.NoError(t, err)
	assert.False(t, found)

	w, found, err := reg.Get(ctx, created.ID, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "billing alerts", w.Name)
}

func TestUpdateIsSparse(t *testing.T) {
	store := ledgertesting.NewMemStore()
	reg := webhooks.NewRegistry(store, nil)
	ctx := context.Background()

	in := validInput()
	project := "proj-A"
	in.ProjectFilter = &project
	created, err := reg.Create(ctx, in)
	require.NoError(t, err)

	updated, found, err := reg.Update(ctx, created.ID, "tenant-1", webhooks.UpdateWebhookInput{TimeoutSeconds: intPtr(60)})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 60, updated.TimeoutSeconds)
	assert.Equal(t, "https://hooks.example.com/ledger", updated.URL)
	require.NotNil(t, updated.ProjectFilter)
	assert.Equal(t, "proj-A", *updated.ProjectFilter)
	assert.Equal(t, []string{"budget.exceeded", "task.completed"}, []string(updated.Events))

	bad := "mailto:ops@example.com"
	_, _, err = reg.Update(ctx, created.ID, "tenant-1", webhooks.UpdateWebhookInput{URL: &bad})
	assert.True(t, validation.IsValidationError(err))

	none := ""
	updated, _, err = reg.Update(ctx, created.ID, "tenant-1", webhooks.UpdateWebhookInput{ProjectFilter: &none})
	require.NoError(t, err)
	assert.Nil(t, updated.ProjectFilter)
}

func TestRegenerateSecretReplacesOldValue(t *testing.T) {
	store := ledgertesting.NewMemStore()
	reg := webhooks.NewRegistry(store, nil)
	ctx := context.Background()

	created, err := reg.Create(ctx, validInput())
	require.NoError(t, err)

	secret, found, err := reg.RegenerateSecret(ctx, created.ID, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, secret, 64)
	assert.NotEqual(t, created.Secret, secret)

	stored, _ := store.Webhook(created.ID)
	assert.Equal(t, secret, stored.SecretKey)
	assert.False(t, stored.IsVerified)
}

func TestListIsNewestFirstAndFiltered(t *testing.T) {
	store := ledgertesting.NewMemStore()
	reg := webhooks.NewRegistry(store, nil)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		in := validInput()
		in.Name = fmt.Sprintf("hook %d", i)
		if i == 1 {
			off := false
			in.IsActive = &off
		}
		created, err := reg.Create(ctx, in)
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	list, err := reg.List(ctx, "tenant-1", nil, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Webhooks, 2)
	assert.Equal(t, ids[2], list.Webhooks[0].ID)

	active := true
	list, err = reg.List(ctx, "tenant-1", &active, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	_, err = reg.List(ctx, "tenant-1", nil, 5000, 0)
	assert.True(t, validation.IsValidationError(err))
}

func TestHealthAndRedeliver(t *testing.T) {
	store := ledgertesting.NewMemStore()
	enq := &recordingEnqueuer{}
	reg := webhooks.NewRegistry(store, enq)
	ctx := context.Background()

	created, err := reg.Create(ctx, validInput())
	require.NoError(t, err)
	w := created.Webhook
	w.TotalDeliveries = 4
	w.SuccessfulDeliveries = 3
	w.FailedDeliveries = 1
	store.PutWebhook(w)

	failed := db.WebhookDelivery{
		ID:          uuid.New(),
		WebhookID:   w.ID,
		TenantID:    w.TenantID,
		EventType:   "task.completed",
		EventID:     "evt-9",
		Payload:     []byte(`{}`),
		Status:      db.DeliveryFailed,
		Attempts:    3,
		MaxAttempts: 3,
		UpdatedAt:   time.Now().UTC(),
	}
	pending := failed
	pending.ID = uuid.New()
	pending.Status = db.DeliveryPending
	pending.Attempts = 0
	store.PutDelivery(failed)
	store.PutDelivery(pending)

	health, found, err := reg.Health(ctx, w.ID, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 75.0, health.SuccessRate, 0.001)
	assert.Equal(t, int64(1), health.PendingCount)
	assert.Equal(t, int64(1), health.RecentFailedCount)

	status := db.DeliveryFailed
	list, found, err := reg.ListDeliveries(ctx, w.ID, "tenant-1", &status, 10, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, list, 1)

	_, found, err = reg.Redeliver(ctx, w.ID, pending.ID, "tenant-1")
	require.NoError(t, err)
	assert.False(t, found)

	d, found, err := reg.Redeliver(ctx, w.ID, failed.ID, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, db.DeliveryRetrying, d.Status)
	assert.Equal(t, 4, d.MaxAttempts)
	assert.Equal(t, []uuid.UUID{failed.ID}, enq.ids)

	_, found, err = reg.Redeliver(ctx, w.ID, failed.ID, "tenant-2")
	require.NoError(t, err)
	assert.False(t, found)
}

type recordingEnqueuer struct {
	ids []uuid.UUID
}

func (r *recordingEnqueuer) Enqueue(id uuid.UUID) bool {
	r.ids = append(r.ids, id)
	return true
}
