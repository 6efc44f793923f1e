/*-------------------------------------------------------------------------
 *
 * client.go
 *    HTTP client for the NeuronLedger API
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cli/pkg/client/client.go
 *
 *-------------------------------------------------------------------------
 */

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/pricing"
	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

/* APIError is a non-2xx response */
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Field      string `json:"field,omitempty"`
	Detail     string `json:"message,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error: status %d: %s", e.StatusCode, e.Message)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.RequestID != "" {
		msg += ", request_id=" + e.RequestID
	}
	return msg
}

/*
 * Client talks to the ledger API. With a token it authenticates with a
 * bearer header; otherwise tenant and user are sent as gateway headers.
 */
type Client struct {
	baseURL    string
	token      string
	tenantID   string
	userID     string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

/* WithTenant sets the gateway identity headers used when no token is configured */
func (c *Client) WithTenant(tenantID, userID string) *Client {
	c.tenantID = tenantID
	c.userID = userID
	return c
}

/* ListWebhooks returns one page of webhooks */
func (c *Client) ListWebhooks(limit, offset int) (*webhooks.WebhookList, error) {
	q := url.Values{}
	setInt(q, "limit", limit)
	setInt(q, "offset", offset)
	var out webhooks.WebhookList
	return &out, c.do(http.MethodGet, "/api/v1/webhooks", q, nil, &out)
}

func (c *Client) GetWebhook(id string) (*db.Webhook, error) {
	var out db.Webhook
	return &out, c.do(http.MethodGet, "/api/v1/webhooks/"+url.PathEscape(id), nil, nil, &out)
}

func (c *Client) CreateWebhook(in webhooks.CreateWebhookInput) (*webhooks.CreatedWebhook, error) {
	var out webhooks.CreatedWebhook
	return &out, c.do(http.MethodPost, "/api/v1/webhooks", nil, in, &out)
}

func (c *Client) UpdateWebhook(id string, in webhooks.UpdateWebhookInput) (*db.Webhook, error) {
	var out db.Webhook
	return &out, c.do(http.MethodPut, "/api/v1/webhooks/"+url.PathEscape(id), nil, in, &out)
}

func (c *Client) DeleteWebhook(id string) error {
	return c.do(http.MethodDelete, "/api/v1/webhooks/"+url.PathEscape(id), nil, nil, nil)
}

/* RegenerateWebhookSecret rotates the signing secret and returns the new one */
func (c *Client) RegenerateWebhookSecret(id string) (string, error) {
	var out struct {
		Secret string `json:"secret"`
	}
	if err := c.do(http.MethodPost, "/api/v1/webhooks/"+url.PathEscape(id)+"/regenerate-secret", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Secret, nil
}

func (c *Client) GetWebhookHealth(id string) (*webhooks.Health, error) {
	var out webhooks.Health
	return &out, c.do(http.MethodGet, "/api/v1/webhooks/"+url.PathEscape(id)+"/health", nil, nil, &out)
}

func (c *Client) ListDeliveries(webhookID, status string, limit int) ([]db.WebhookDelivery, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	setInt(q, "limit", limit)
	var out struct {
		Deliveries []db.WebhookDelivery `json:"deliveries"`
	}
	if err := c.do(http.MethodGet, "/api/v1/webhooks/"+url.PathEscape(webhookID)+"/deliveries", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Deliveries, nil
}

func (c *Client) Redeliver(webhookID, deliveryID string) (*db.WebhookDelivery, error) {
	var out db.WebhookDelivery
	path := "/api/v1/webhooks/" + url.PathEscape(webhookID) + "/deliveries/" + url.PathEscape(deliveryID) + "/redeliver"
	return &out, c.do(http.MethodPost, path, nil, nil, &out)
}

/* ListBudgets returns the tenant's budgets; activeOnly narrows to active ones */
func (c *Client) ListBudgets(activeOnly bool) ([]cost.BudgetView, error) {
	q := url.Values{}
	if activeOnly {
		q.Set("is_active", "true")
	}
	var out struct {
		Budgets []cost.BudgetView `json:"budgets"`
	}
	if err := c.do(http.MethodGet, "/api/v1/budgets", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Budgets, nil
}

func (c *Client) GetBudget(id string) (*cost.BudgetView, error) {
	var out cost.BudgetView
	return &out, c.do(http.MethodGet, "/api/v1/budgets/"+url.PathEscape(id), nil, nil, &out)
}

func (c *Client) CreateBudget(in cost.CreateBudgetInput) (*cost.BudgetView, error) {
	var out cost.BudgetView
	return &out, c.do(http.MethodPost, "/api/v1/budgets", nil, in, &out)
}

func (c *Client) DeactivateBudget(id string) error {
	return c.do(http.MethodDelete, "/api/v1/budgets/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) ListAlerts(budgetID string, unacknowledgedOnly bool, limit int) ([]db.BudgetAlert, error) {
	q := url.Values{}
	if budgetID != "" {
		q.Set("budget_id", budgetID)
	}
	if unacknowledgedOnly {
		q.Set("acknowledged", "false")
	}
	setInt(q, "limit", limit)
	var out struct {
		Alerts []db.BudgetAlert `json:"alerts"`
	}
	if err := c.do(http.MethodGet, "/api/v1/alerts", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

func (c *Client) AcknowledgeAlert(id, acknowledgedBy string) (*db.BudgetAlert, error) {
	var body interface{}
	if acknowledgedBy != "" {
		body = map[string]string{"acknowledged_by": acknowledgedBy}
	}
	var out db.BudgetAlert
	return &out, c.do(http.MethodPost, "/api/v1/alerts/"+url.PathEscape(id)+"/acknowledge", nil, body, &out)
}

/* CostSummary aggregates cost; from and to are RFC 3339 or YYYY-MM-DD, empty for open */
func (c *Client) CostSummary(groupBy, from, to string) (*cost.CostSummary, error) {
	q := url.Values{}
	for k, v := range map[string]string{"group_by": groupBy, "from": from, "to": to} {
		if v != "" {
			q.Set(k, v)
		}
	}
	var out cost.CostSummary
	return &out, c.do(http.MethodGet, "/api/v1/costs/summary", q, nil, &out)
}

func (c *Client) GetExecution(taskID string) (*db.ExecutionRecord, error) {
	var out db.ExecutionRecord
	return &out, c.do(http.MethodGet, "/api/v1/executions/"+url.PathEscape(taskID), nil, nil, &out)
}

func (c *Client) ListEvents(eventType string, limit int) ([]db.EventLogEntry, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("event_type", eventType)
	}
	setInt(q, "limit", limit)
	var out struct {
		Events []db.EventLogEntry `json:"events"`
	}
	if err := c.do(http.MethodGet, "/api/v1/events", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

/* PublishEvent publishes an event and returns how many webhooks it was scheduled for */
func (c *Client) PublishEvent(req events.PublishRequest) (int, error) {
	var out struct {
		WebhookCount int `json:"webhook_count"`
	}
	if err := c.do(http.MethodPost, "/api/v1/events", nil, req, &out); err != nil {
		return 0, err
	}
	return out.WebhookCount, nil
}

func (c *Client) ListPricing() ([]pricing.Price, error) {
	var out struct {
		Prices []pricing.Price `json:"prices"`
	}
	if err := c.do(http.MethodGet, "/api/v1/pricing", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Prices, nil
}

func (c *Client) RefreshPricing() (int, error) {
	var out struct {
		Models int `json:"models"`
	}
	if err := c.do(http.MethodPost, "/api/v1/pricing/refresh", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Models, nil
}

/*
 * StreamEvents opens the live event stream and calls fn for each event
 * until fn returns false or the connection closes.
 */
func (c *Client) StreamEvents(eventTypes []string, fn func(events.Envelope) bool) error {
	u, err := url.Parse(c.baseURL + "/api/v1/events/stream")
	if err != nil {
		return fmt.Errorf("invalid base URL: url='%s', error=%w", c.baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	if len(eventTypes) > 0 {
		q.Set("event_types", strings.Join(eventTypes, ","))
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), c.headers())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("event stream connection failed: %w", err)
	}
	defer conn.Close()

	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream read failed: %w", err)
		}
		if !fn(env) {
			return conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
	}
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
		return h
	}
	if c.tenantID != "" {
		h.Set("X-Tenant-ID", c.tenantID)
	}
	if c.userID != "" {
		h.Set("X-User-ID", c.userID)
	}
	return h
}

func (c *Client) do(method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = c.headers()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, fmt.Sprint(v))
	}
}
