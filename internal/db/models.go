/*-------------------------------------------------------------------------
 *
 * models.go
 *    Row types for the ledger schema
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/models.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

/* Execution statuses */
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

/* Budget types */
const (
	BudgetDaily   = "daily"
	BudgetWeekly  = "weekly"
	BudgetMonthly = "monthly"
	BudgetTotal   = "total"
)

/* Budget scope kinds */
const (
	ScopeTenant  = "tenant"
	ScopeUser    = "user"
	ScopeProject = "project"
)

/* Alert types, ordered by severity */
const (
	AlertWarning  = "warning"
	AlertCritical = "critical"
	AlertExceeded = "exceeded"
)

/* Delivery statuses */
const (
	DeliveryPending   = "pending"
	DeliveryRetrying  = "retrying"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

/* JSONBMap is a free-form JSON object column */
type JSONBMap map[string]interface{}

/* Value implements driver.Valuer */
func (m JSONBMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

/* Scan implements sql.Scanner */
func (m *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONBMap{}
		return nil
	}
	data, err := scanBytes(value)
	if err != nil {
		return err
	}
	out := JSONBMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode jsonb object: error=%w", err)
	}
	*m = out
	return nil
}

/* StringMap is a JSON object column of string values, used for HTTP headers */
type StringMap map[string]string

/* Value implements driver.Valuer */
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

/* Scan implements sql.Scanner */
func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = StringMap{}
		return nil
	}
	data, err := scanBytes(value)
	if err != nil {
		return err
	}
	out := StringMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode jsonb string map: error=%w", err)
	}
	*m = out
	return nil
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported jsonb source type %T", value)
	}
}

/* ModelPricing is one row of the pricing table, prices in USD per 1M tokens */
type ModelPricing struct {
	Provider         string          `db:"provider" json:"provider"`
	Model            string          `db:"model" json:"model"`
	InputPricePer1M  decimal.Decimal `db:"input_price_per_1m" json:"input_price_per_1m"`
	OutputPricePer1M decimal.Decimal `db:"output_price_per_1m" json:"output_price_per_1m"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

/* ExecutionRecord is the append-only ledger entry for one agent task */
type ExecutionRecord struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	TaskID        string          `db:"task_id" json:"task_id"`
	AgentName     string          `db:"agent_name" json:"agent_name"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	ProjectID     *string         `db:"project_id" json:"project_id,omitempty"`
	WorkflowID    *string         `db:"workflow_id" json:"workflow_id,omitempty"`
	ModelProvider string          `db:"model_provider" json:"model_provider"`
	ModelName     string          `db:"model_name" json:"model_name"`
	InputTokens   int64           `db:"input_tokens" json:"input_tokens"`
	OutputTokens  int64           `db:"output_tokens" json:"output_tokens"`
	LatencyMS     int64           `db:"latency_ms" json:"latency_ms"`
	Status        string          `db:"status" json:"status"`
	InputCostUSD  decimal.Decimal `db:"input_cost_usd" json:"input_cost_usd"`
	OutputCostUSD decimal.Decimal `db:"output_cost_usd" json:"output_cost_usd"`
	CostUSD       decimal.Decimal `db:"cost_usd" json:"cost_usd"`
	Context       JSONBMap        `db:"context" json:"context,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

/* Budget is a spend limit for exactly one of tenant, user or project */
type Budget struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	OwnerTenantID        string          `db:"owner_tenant_id" json:"owner_tenant_id"`
	TenantID             *string         `db:"tenant_id" json:"tenant_id,omitempty"`
	UserID               *string         `db:"user_id" json:"user_id,omitempty"`
	ProjectID            *string         `db:"project_id" json:"project_id,omitempty"`
	BudgetType           string          `db:"budget_type" json:"budget_type"`
	BudgetAmountUSD      decimal.Decimal `db:"budget_amount_usd" json:"budget_amount_usd"`
	CurrentSpendUSD      decimal.Decimal `db:"current_spend_usd" json:"current_spend_usd"`
	AlertThresholdPct    decimal.Decimal `db:"alert_threshold_pct" json:"alert_threshold_pct"`
	CriticalThresholdPct decimal.Decimal `db:"critical_threshold_pct" json:"critical_threshold_pct"`
	IsActive             bool            `db:"is_active" json:"is_active"`
	PeriodStart          time.Time       `db:"period_start" json:"period_start"`
	PeriodEnd            *time.Time      `db:"period_end" json:"period_end,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

/* ScopeKind returns which scope column is set */
func (b *Budget) ScopeKind() string {
	switch {
	case b.TenantID != nil:
		return ScopeTenant
	case b.UserID != nil:
		return ScopeUser
	case b.ProjectID != nil:
		return ScopeProject
	}
	return ""
}

/* BudgetScope selects the budgets a spend increment applies to */
type BudgetScope struct {
	Kind          string
	OwnerTenantID string
	Value         string /* tenant, user or project id */
}

/* BudgetAlert records one threshold crossing within a budget period */
type BudgetAlert struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	BudgetID        uuid.UUID       `db:"budget_id" json:"budget_id"`
	OwnerTenantID   string          `db:"owner_tenant_id" json:"owner_tenant_id"`
	AlertType       string          `db:"alert_type" json:"alert_type"`
	ThresholdPct    decimal.Decimal `db:"threshold_pct" json:"threshold_pct"`
	CurrentSpendUSD decimal.Decimal `db:"current_spend_usd" json:"current_spend_usd"`
	BudgetAmountUSD decimal.Decimal `db:"budget_amount_usd" json:"budget_amount_usd"`
	PeriodStart     time.Time       `db:"period_start" json:"period_start"`
	IsAcknowledged  bool            `db:"is_acknowledged" json:"is_acknowledged"`
	AcknowledgedBy  *string         `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time      `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	Message         string          `db:"message" json:"message"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

/* Webhook is a tenant's subscription to a set of event types */
type Webhook struct {
	ID                   uuid.UUID      `db:"id" json:"id"`
	TenantID             string         `db:"tenant_id" json:"tenant_id"`
	UserID               string         `db:"user_id" json:"user_id"`
	Name                 string         `db:"name" json:"name"`
	URL                  string         `db:"url" json:"url"`
	Description          *string        `db:"description" json:"description,omitempty"`
	Events               pq.StringArray `db:"events" json:"events"`
	ProjectFilter        *string        `db:"project_filter" json:"project_filter,omitempty"`
	WorkflowFilter       *string        `db:"workflow_filter" json:"workflow_filter,omitempty"`
	SecretKey            string         `db:"secret_key" json:"-"`
	MaxRetries           int            `db:"max_retries" json:"max_retries"`
	RetryDelaySeconds    int            `db:"retry_delay_seconds" json:"retry_delay_seconds"`
	TimeoutSeconds       int            `db:"timeout_seconds" json:"timeout_seconds"`
	CustomHeaders        StringMap      `db:"custom_headers" json:"custom_headers"`
	IsActive             bool           `db:"is_active" json:"is_active"`
	IsVerified           bool           `db:"is_verified" json:"is_verified"`
	TotalDeliveries      int64          `db:"total_deliveries" json:"total_deliveries"`
	SuccessfulDeliveries int64          `db:"successful_deliveries" json:"successful_deliveries"`
	FailedDeliveries     int64          `db:"failed_deliveries" json:"failed_deliveries"`
	LastTriggeredAt      *time.Time     `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

/* MaxAttempts is the total number of delivery attempts allowed, at least one */
func (w *Webhook) MaxAttempts() int {
	if w.MaxRetries < 1 {
		return 1
	}
	return w.MaxRetries
}

/* WebhookDelivery tracks one event delivered to one webhook across attempts */
type WebhookDelivery struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	WebhookID       uuid.UUID      `db:"webhook_id" json:"webhook_id"`
	TenantID        string         `db:"tenant_id" json:"tenant_id"`
	EventType       string         `db:"event_type" json:"event_type"`
	EventID         string         `db:"event_id" json:"event_id"`
	Payload         types.JSONText `db:"payload" json:"payload"`
	Status          string         `db:"status" json:"status"`
	Attempts        int            `db:"attempts" json:"attempts"`
	MaxAttempts     int            `db:"max_attempts" json:"max_attempts"`
	ScheduledAt     time.Time      `db:"scheduled_at" json:"scheduled_at"`
	NextRetryAt     *time.Time     `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ClaimedUntil    *time.Time     `db:"claimed_until" json:"-"`
	ClaimToken      *uuid.UUID     `db:"claim_token" json:"-"`
	DeliveredAt     *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	HTTPStatusCode  *int           `db:"http_status_code" json:"http_status_code,omitempty"`
	ResponseBody    *string        `db:"response_body" json:"response_body,omitempty"`
	ResponseHeaders StringMap      `db:"response_headers" json:"response_headers,omitempty"`
	ErrorMessage    *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

/*
 * DeliveryClaim is a worker's lease on a delivery. A row leased under one
 * token cannot be attempted under another until the lease expires.
 */
type DeliveryClaim struct {
	Token uuid.UUID
	Now   time.Time
	Until time.Time
}

/* NewDeliveryClaim returns a fresh claim leasing until now+lease */
func NewDeliveryClaim(now time.Time, lease time.Duration) DeliveryClaim {
	return DeliveryClaim{Token: uuid.New(), Now: now, Until: now.Add(lease)}
}

/* HeldByOther reports whether the delivery's lease is unexpired and belongs to someone other than c */
func (d *WebhookDelivery) HeldByOther(c DeliveryClaim) bool {
	if d.ClaimedUntil == nil || d.ClaimedUntil.Before(c.Now) {
		return false
	}
	return d.ClaimToken == nil || *d.ClaimToken != c.Token
}

/* DeliveryOutcome is the stored result of one delivery attempt */
type DeliveryOutcome struct {
	Success         bool
	HTTPStatusCode  *int
	ResponseBody    *string
	ResponseHeaders StringMap
	ErrorMessage    *string
	At              time.Time
}

/* EventLogEntry is the immutable audit record of a published event */
type EventLogEntry struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenant_id"`
	UserID       *string        `db:"user_id" json:"user_id,omitempty"`
	EventType    string         `db:"event_type" json:"event_type"`
	EventID      string         `db:"event_id" json:"event_id"`
	Source       string         `db:"source" json:"source"`
	Payload      types.JSONText `db:"payload" json:"payload"`
	ProjectID    *string        `db:"project_id" json:"project_id,omitempty"`
	WorkflowID   *string        `db:"workflow_id" json:"workflow_id,omitempty"`
	WebhookCount int            `db:"webhook_count" json:"webhook_count"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

/* CostSummaryRow is one group of an aggregated cost report */
type CostSummaryRow struct {
	GroupKey       string          `db:"group_key" json:"group_key"`
	ExecutionCount int64           `db:"execution_count" json:"execution_count"`
	InputTokens    int64           `db:"input_tokens" json:"input_tokens"`
	OutputTokens   int64           `db:"output_tokens" json:"output_tokens"`
	TotalCostUSD   decimal.Decimal `db:"total_cost_usd" json:"total_cost_usd"`
	AvgLatencyMS   float64         `db:"avg_latency_ms" json:"avg_latency_ms"`
}

/* WebhookHealth joins webhook counters with live queue depth */
type WebhookHealth struct {
	WebhookID            uuid.UUID  `db:"webhook_id" json:"webhook_id"`
	Name                 string     `db:"name" json:"name"`
	URL                  string     `db:"url" json:"url"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	IsVerified           bool       `db:"is_verified" json:"is_verified"`
	TotalDeliveries      int64      `db:"total_deliveries" json:"total_deliveries"`
	SuccessfulDeliveries int64      `db:"successful_deliveries" json:"successful_deliveries"`
	FailedDeliveries     int64      `db:"failed_deliveries" json:"failed_deliveries"`
	LastTriggeredAt      *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	PendingCount         int64      `db:"pending_count" json:"pending_count"`
	RetryingCount        int64      `db:"retrying_count" json:"retrying_count"`
	RecentFailedCount    int64      `db:"recent_failed_count" json:"recent_failed_count"`
}
