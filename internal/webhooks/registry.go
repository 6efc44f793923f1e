/*-------------------------------------------------------------------------
 *
 * registry.go
 *    Tenant-scoped webhook management
 *
 * Every read and write is keyed by (id, tenant_id) in the query itself,
 * so a webhook of another tenant is indistinguishable from a missing one.
 * The signing secret is only ever returned by Create and RegenerateSecret.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/webhooks/registry.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/validation"
)

const (
	DefaultMaxRetries        = 3
	DefaultRetryDelaySeconds = 60
	DefaultTimeoutSeconds    = 30

	healthWindow      = 24 * time.Hour
	maxCustomHeaders  = 20
	maxHeaderValueLen = 1024
)

var reservedHeaders = func() map[string]bool {
	m := map[string]bool{}
	for _, h := range []string{"Content-Type", "Content-Length", "Host", "User-Agent", HeaderSignature, HeaderID, HeaderEvent, HeaderAttempt} {
		m[http.CanonicalHeaderKey(h)] = true
	}
	return m
}()

/* RegistryStore is the persistence the registry needs */
type RegistryStore interface {
	CreateWebhook(ctx context.Context, w *db.Webhook) error
	GetWebhook(ctx context.Context, id uuid.UUID, tenantID string) (*db.Webhook, error)
	ListWebhooks(ctx context.Context, f db.WebhookFilter) ([]db.Webhook, int, error)
	UpdateWebhook(ctx context.Context, w *db.Webhook) (bool, error)
	DeleteWebhook(ctx context.Context, id uuid.UUID, tenantID string) (bool, error)
	UpdateWebhookSecret(ctx context.Context, id uuid.UUID, tenantID, secret string) (bool, error)
	GetWebhookHealth(ctx context.Context, id uuid.UUID, tenantID string, failedSince time.Time) (*db.WebhookHealth, error)
	ListWebhookDeliveries(ctx context.Context, f db.DeliveryFilter) ([]db.WebhookDelivery, error)
	RedeliverDelivery(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) (*db.WebhookDelivery, error)
}

/* Enqueuer hands a delivery to the engine immediately */
type Enqueuer interface {
	Enqueue(id uuid.UUID) bool
}

/* CreateWebhookInput describes a new webhook */
type CreateWebhookInput struct {
	TenantID          string            `json:"-"`
	UserID            string            `json:"-"`
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Description       *string           `json:"description,omitempty"`
	Events            []string          `json:"events"`
	ProjectFilter     *string           `json:"project_filter,omitempty"`
	WorkflowFilter    *string           `json:"workflow_filter,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty"`
	RetryDelaySeconds *int              `json:"retry_delay_seconds,omitempty"`
	TimeoutSeconds    *int              `json:"timeout_seconds,omitempty"`
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
	IsActive          *bool             `json:"is_active,omitempty"`
}

/* UpdateWebhookInput is a sparse update; nil fields are left unchanged */
type UpdateWebhookInput struct {
	Name              *string            `json:"name,omitempty"`
	URL               *string            `json:"url,omitempty"`
	Description       *string            `json:"description,omitempty"`
	Events            *[]string          `json:"events,omitempty"`
	ProjectFilter     *string            `json:"project_filter,omitempty"`
	WorkflowFilter    *string            `json:"workflow_filter,omitempty"`
	MaxRetries        *int               `json:"max_retries,omitempty"`
	RetryDelaySeconds *int               `json:"retry_delay_seconds,omitempty"`
	TimeoutSeconds    *int               `json:"timeout_seconds,omitempty"`
	CustomHeaders     *map[string]string `json:"custom_headers,omitempty"`
	IsActive          *bool              `json:"is_active,omitempty"`
}

/* CreatedWebhook carries the secret, shown once */
type CreatedWebhook struct {
	db.Webhook
	Secret string `json:"secret"`
}

/* WebhookList is one page of webhooks */
type WebhookList struct {
	Webhooks []db.Webhook `json:"webhooks"`
	Total    int          `json:"total"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

/* Health is the operational view of one webhook */
type Health struct {
	db.WebhookHealth
	SuccessRate float64   `json:"success_rate"`
	WindowStart time.Time `json:"recent_failed_since"`
}

/* Registry manages webhooks and their deliveries */
type Registry struct {
	store    RegistryStore
	enqueuer Enqueuer
	now      func() time.Time
}

/* NewRegistry creates a registry; enqueuer may be nil */
func NewRegistry(store RegistryStore, enqueuer Enqueuer) *Registry {
	return &Registry{
		store:    store,
		enqueuer: enqueuer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

/* Create validates and stores a webhook with a fresh secret */
func (r *Registry) Create(ctx context.Context, in CreateWebhookInput) (*CreatedWebhook, error) {
	if err := validation.ValidateRequired(in.TenantID, "tenant_id"); err != nil {
		return nil, err
	}

	w := &db.Webhook{
		ID:                uuid.New(),
		TenantID:          in.TenantID,
		UserID:            in.UserID,
		Name:              strings.TrimSpace(in.Name),
		URL:               strings.TrimSpace(in.URL),
		Description:       in.Description,
		Events:            pq.StringArray(in.Events),
		ProjectFilter:     emptyToNil(in.ProjectFilter),
		WorkflowFilter:    emptyToNil(in.WorkflowFilter),
		MaxRetries:        intOr(in.MaxRetries, DefaultMaxRetries),
		RetryDelaySeconds: intOr(in.RetryDelaySeconds, DefaultRetryDelaySeconds),
		TimeoutSeconds:    intOr(in.TimeoutSeconds, DefaultTimeoutSeconds),
		CustomHeaders:     normalizeHeaders(in.CustomHeaders),
		IsActive:          in.IsActive == nil || *in.IsActive,
	}
	if err := validateWebhook(w); err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	w.SecretKey = secret

	if err := r.store.CreateWebhook(ctx, w); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, duplicateName(w.Name)
		}
		return nil, fmt.Errorf("webhook creation failed: tenant_id='%s', name='%s', error=%w", w.TenantID, w.Name, err)
	}

	metrics.InfoWithContext(ctx, "Webhook created", map[string]interface{}{
		"webhook_id": w.ID.String(),
		"events":     strings.Join(w.Events, ","),
	})
	return &CreatedWebhook{Webhook: *w, Secret: secret}, nil
}

/* Get returns a webhook; found is false when it does not exist for the tenant */
func (r *Registry) Get(ctx context.Context, id uuid.UUID, tenantID string) (*db.Webhook, bool, error) {
	w, err := r.store.GetWebhook(ctx, id, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("webhook lookup failed: webhook_id='%s', error=%w", id, err)
	}
	return w, w != nil, nil
}

/* List returns a page of the tenant's webhooks, newest first */
func (r *Registry) List(ctx context.Context, tenantID string, isActive *bool, limit, offset int) (*WebhookList, error) {
	if limit == 0 {
		limit = 50
	}
	if err := validation.ValidatePagination(limit, offset); err != nil {
		return nil, err
	}
	list, total, err := r.store.ListWebhooks(ctx, db.WebhookFilter{TenantID: tenantID, IsActive: isActive, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("webhook listing failed: tenant_id='%s', error=%w", tenantID, err)
	}
	if list == nil {
		list = []db.Webhook{}
	}
	return &WebhookList{Webhooks: list, Total: total, Limit: limit, Offset: offset}, nil
}

/* Update applies the provided fields and re-validates the result */
func (r *Registry) Update(ctx context.Context, id uuid.UUID, tenantID string, in UpdateWebhookInput) (*db.Webhook, bool, error) {
	w, err := r.store.GetWebhook(ctx, id, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("webhook lookup failed: webhook_id='%s', error=%w", id, err)
	}
	if w == nil {
		return nil, false, nil
	}

	if in.Name != nil {
		w.Name = strings.TrimSpace(*in.Name)
	}
	if in.URL != nil {
		w.URL = strings.TrimSpace(*in.URL)
	}
	if in.Description != nil {
		w.Description = in.Description
	}
	if in.Events != nil {
		w.Events = pq.StringArray(*in.Events)
	}
	if in.ProjectFilter != nil {
		w.ProjectFilter = emptyToNil(in.ProjectFilter)
	}
	if in.WorkflowFilter != nil {
		w.WorkflowFilter = emptyToNil(in.WorkflowFilter)
	}
	if in.MaxRetries != nil {
		w.MaxRetries = *in.MaxRetries
	}
	if in.RetryDelaySeconds != nil {
		w.RetryDelaySeconds = *in.RetryDelaySeconds
	}
	if in.TimeoutSeconds != nil {
		w.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.CustomHeaders != nil {
		w.CustomHeaders = normalizeHeaders(*in.CustomHeaders)
	}
	if in.IsActive != nil {
		w.IsActive = *in.IsActive
	}
	if err := validateWebhook(w); err != nil {
		return nil, false, err
	}

	ok, err := r.store.UpdateWebhook(ctx, w)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, false, duplicateName(w.Name)
		}
		return nil, false, fmt.Errorf("webhook update failed: webhook_id='%s', error=%w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	return w, true, nil
}

/* Delete removes a webhook and its delivery history */
func (r *Registry) Delete(ctx context.Context, id uuid.UUID, tenantID string) (bool, error) {
	ok, err := r.store.DeleteWebhook(ctx, id, tenantID)
	if err != nil {
		return false, fmt.Errorf("webhook deletion failed: webhook_id='%s', error=%w", id, err)
	}
	if ok {
		metrics.InfoWithContext(ctx, "Webhook deleted", map[string]interface{}{"webhook_id": id.String()})
	}
	return ok, nil
}

/* RegenerateSecret replaces the signing secret; the old one is not recoverable */
func (r *Registry) RegenerateSecret(ctx context.Context, id uuid.UUID, tenantID string) (string, bool, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", false, err
	}
	ok, err := r.store.UpdateWebhookSecret(ctx, id, tenantID, secret)
	if err != nil {
		return "", false, fmt.Errorf("webhook secret rotation failed: webhook_id='%s', error=%w", id, err)
	}
	if !ok {
		return "", false, nil
	}
	metrics.InfoWithContext(ctx, "Webhook secret rotated", map[string]interface{}{"webhook_id": id.String()})
	return secret, true, nil
}

/* Health returns counters, queue depth and success rate */
func (r *Registry) Health(ctx context.Context, id uuid.UUID, tenantID string) (*Health, bool, error) {
	since := r.now().Add(-healthWindow)
	h, err := r.store.GetWebhookHealth(ctx, id, tenantID, since)
	if err != nil {
		return nil, false, fmt.Errorf("webhook health lookup failed: webhook_id='%s', error=%w", id, err)
	}
	if h == nil {
		return nil, false, nil
	}

	rate := 0.0
	if h.TotalDeliveries > 0 {
		rate = float64(h.SuccessfulDeliveries) / float64(h.TotalDeliveries) * 100
	}
	return &Health{WebhookHealth: *h, SuccessRate: rate, WindowStart: since}, true, nil
}

/* ListDeliveries returns a webhook's delivery history, newest first */
func (r *Registry) ListDeliveries(ctx context.Context, webhookID uuid.UUID, tenantID string, status *string, limit, offset int) ([]db.WebhookDelivery, bool, error) {
	if status != nil {
		if err := validation.ValidateOneOf(*status, "status",
			db.DeliveryPending, db.DeliveryRetrying, db.DeliveryDelivered, db.DeliveryFailed); err != nil {
			return nil, false, err
		}
	}
	if limit == 0 {
		limit = 50
	}
	if err := validation.ValidatePagination(limit, offset); err != nil {
		return nil, false, err
	}

	if _, found, err := r.Get(ctx, webhookID, tenantID); err != nil || !found {
		return nil, false, err
	}

	list, err := r.store.ListWebhookDeliveries(ctx, db.DeliveryFilter{
		WebhookID: webhookID,
		TenantID:  tenantID,
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, false, fmt.Errorf("webhook delivery listing failed: webhook_id='%s', error=%w", webhookID, err)
	}
	if list == nil {
		list = []db.WebhookDelivery{}
	}
	return list, true, nil
}

/*
 * Redeliver re-arms a terminally failed delivery for one more attempt.
 * found is false when the delivery does not exist for the webhook and
 * tenant, or is not in the failed state.
 */
func (r *Registry) Redeliver(ctx context.Context, webhookID, deliveryID uuid.UUID, tenantID string) (*db.WebhookDelivery, bool, error) {
	if _, found, err := r.Get(ctx, webhookID, tenantID); err != nil || !found {
		return nil, false, err
	}

	d, err := r.store.RedeliverDelivery(ctx, deliveryID, tenantID, r.now())
	if err != nil {
		return nil, false, fmt.Errorf("webhook redelivery failed: delivery_id='%s', error=%w", deliveryID, err)
	}
	if d == nil || d.WebhookID != webhookID {
		return nil, false, nil
	}
	if r.enqueuer != nil {
		r.enqueuer.Enqueue(d.ID)
	}
	return d, true, nil
}

func duplicateName(name string) error {
	return validation.Errorf("name", "a webhook named '%s' already exists", name)
}

func validateWebhook(w *db.Webhook) error {
	if err := validation.ValidateRequired(w.Name, "name"); err != nil {
		return err
	}
	if err := validation.ValidateMaxLength(w.Name, "name", 255); err != nil {
		return err
	}
	if err := validation.ValidateHTTPURL(w.URL, "url"); err != nil {
		return err
	}
	if err := validation.ValidateMaxLength(w.URL, "url", 2048); err != nil {
		return err
	}
	if len(w.Events) == 0 {
		return validation.Errorf("events", "at least one event type is required")
	}
	seen := map[string]bool{}
	for _, e := range w.Events {
		if _, err := events.ParseEventType(e); err != nil {
			return validation.Errorf("events", "unknown event type '%s'", e)
		}
		if seen[e] {
			return validation.Errorf("events", "duplicate event type '%s'", e)
		}
		seen[e] = true
	}
	if err := validation.ValidateIntRange(w.MaxRetries, 0, 10, "max_retries"); err != nil {
		return err
	}
	if err := validation.ValidateIntRange(w.RetryDelaySeconds, 10, 3600, "retry_delay_seconds"); err != nil {
		return err
	}
	if err := validation.ValidateIntRange(w.TimeoutSeconds, 5, 120, "timeout_seconds"); err != nil {
		return err
	}
	if len(w.CustomHeaders) > maxCustomHeaders {
		return validation.Errorf("custom_headers", "at most %d headers are allowed", maxCustomHeaders)
	}
	for name, value := range w.CustomHeaders {
		if reservedHeaders[name] {
			return validation.Errorf("custom_headers", "header '%s' is set by the delivery engine", name)
		}
		if len(value) > maxHeaderValueLen {
			return validation.Errorf("custom_headers", "header '%s' value exceeds %d characters", name, maxHeaderValueLen)
		}
	}
	return nil
}

/* normalizeHeaders canonicalizes header names so reserved names cannot be bypassed by case */
func normalizeHeaders(in map[string]string) db.StringMap {
	out := db.StringMap{}
	for k, v := range in {
		name := http.CanonicalHeaderKey(strings.TrimSpace(k))
		if name == "" {
			continue
		}
		out[name] = v
	}
	return out
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
