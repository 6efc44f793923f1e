/*-------------------------------------------------------------------------
 *
 * memstore.go
 *    In-memory implementation of the ledger stores for unit tests
 *
 * MemStore mirrors the semantics of the PostgreSQL queries closely enough
 * for the tracker, dispatcher, delivery engine and API handlers to be
 * tested without a database. Transactions and savepoints are implemented
 * by snapshotting the whole state and restoring it on failure.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/testing/memstore.go
 *
 *-------------------------------------------------------------------------
 */

package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/db"
)

type memState struct {
	pricing      map[string]db.ModelPricing
	executions   map[string]db.ExecutionRecord
	execOrder    []string
	budgets      map[uuid.UUID]db.Budget
	budgetOrder  []uuid.UUID
	alerts       []db.BudgetAlert
	webhooks     map[uuid.UUID]db.Webhook
	webhookOrder []uuid.UUID
	deliveries   map[uuid.UUID]db.WebhookDelivery
	deliveryOrd  []uuid.UUID
	events       []db.EventLogEntry
}

func newMemState() *memState {
	return &memState{
		pricing:    map[string]db.ModelPricing{},
		executions: map[string]db.ExecutionRecord{},
		budgets:    map[uuid.UUID]db.Budget{},
		webhooks:   map[uuid.UUID]db.Webhook{},
		deliveries: map[uuid.UUID]db.WebhookDelivery{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.pricing {
		c.pricing[k] = v
	}
	for k, v := range s.executions {
		c.executions[k] = v
	}
	for k, v := range s.budgets {
		c.budgets[k] = v
	}
	for k, v := range s.webhooks {
		c.webhooks[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = v
	}
	c.execOrder = append([]string(nil), s.execOrder...)
	c.budgetOrder = append([]uuid.UUID(nil), s.budgetOrder...)
	c.alerts = append([]db.BudgetAlert(nil), s.alerts...)
	c.webhookOrder = append([]uuid.UUID(nil), s.webhookOrder...)
	c.deliveryOrd = append([]uuid.UUID(nil), s.deliveryOrd...)
	c.events = append([]db.EventLogEntry(nil), s.events...)
	return c
}

/* MemStore is a mutex-guarded in-memory ledger database */
type MemStore struct {
	mu    sync.Mutex
	state *memState

	failMu           sync.Mutex
	failures         map[string]error
	deliveryFailures map[uuid.UUID]error

	/* Now is the store's clock; override for deterministic tests */
	Now func() time.Time
}

/* NewMemStore creates an empty store */
func NewMemStore() *MemStore {
	return &MemStore{
		state:            newMemState(),
		failures:         map[string]error{},
		deliveryFailures: map[uuid.UUID]error{},
		Now:              func() time.Time { return time.Now().UTC() },
	}
}

/* FailOn makes every call of the named operation return err; nil clears it */
func (m *MemStore) FailOn(op string, err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

/* FailDeliveryFor makes CreateWebhookDelivery fail for one webhook */
func (m *MemStore) FailDeliveryFor(webhookID uuid.UUID, err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if err == nil {
		delete(m.deliveryFailures, webhookID)
		return
	}
	m.deliveryFailures[webhookID] = err
}

func (m *MemStore) fail(op string) error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return m.failures[op]
}

/* memTx runs operations against the state while MemStore.mu is held */
type memTx struct {
	m *MemStore
}

/* RunInTx runs fn atomically; the state is restored if fn fails */
func (m *MemStore) RunInTx(ctx context.Context, fn func(tx cost.TxStore) error) error {
	if err := m.fail("RunInTx"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (tx *memTx) InsertExecution(ctx context.Context, rec *db.ExecutionRecord) (*db.ExecutionRecord, bool, error) {
	return tx.m.insertExecution(rec)
}

func (tx *memTx) IncrementBudgetSpend(ctx context.Context, scope db.BudgetScope, amount decimal.Decimal) ([]db.Budget, error) {
	return tx.m.incrementBudgetSpend(scope, amount)
}

func (tx *memTx) InsertBudgetAlert(ctx context.Context, a *db.BudgetAlert) (bool, error) {
	return tx.m.insertBudgetAlert(a)
}

func (tx *memTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	snapshot := tx.m.state.clone()
	if err := fn(); err != nil {
		tx.m.state = snapshot
		return err
	}
	return nil
}

/* Pricing */

func (m *MemStore) ListActivePricing(ctx context.Context) ([]db.ModelPricing, error) {
	if err := m.fail("ListActivePricing"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]db.ModelPricing, 0, len(m.state.pricing))
	for _, p := range m.state.pricing {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out, nil
}

func (m *MemStore) SeedPricing(ctx context.Context, p *db.ModelPricing) (bool, error) {
	if err := m.fail("SeedPricing"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.Provider + "/" + p.Model
	if _, ok := m.state.pricing[key]; ok {
		return false, nil
	}
	row := *p
	row.IsActive = true
	row.UpdatedAt = m.Now()
	m.state.pricing[key] = row
	return true, nil
}

func (m *MemStore) UpsertPricing(ctx context.Context, p *db.ModelPricing) error {
	if err := m.fail("UpsertPricing"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row := *p
	row.UpdatedAt = m.Now()
	m.state.pricing[p.Provider+"/"+p.Model] = row
	return nil
}

/* Executions */

func (m *MemStore) insertExecution(rec *db.ExecutionRecord) (*db.ExecutionRecord, bool, error) {
	if err := m.fail("InsertExecution"); err != nil {
		return nil, false, err
	}
	key := executionKey(rec.TenantID, rec.TaskID)
	if existing, ok := m.state.executions[key]; ok {
		return &existing, false, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.Now()
	}
	m.state.executions[key] = *rec
	m.state.execOrder = append(m.state.execOrder, key)
	return rec, true, nil
}

/* task_id is unique per tenant */
func executionKey(tenantID, taskID string) string {
	return tenantID + "\x00" + taskID
}

func (m *MemStore) GetExecutionByTaskID(ctx context.Context, tenantID, taskID string) (*db.ExecutionRecord, error) {
	if err := m.fail("GetExecutionByTaskID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.state.executions[executionKey(tenantID, taskID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func costGroupKey(rec *db.ExecutionRecord, groupBy string) (string, bool) {
	orUnassigned := func(s *string) string {
		if s == nil {
			return "unassigned"
		}
		return *s
	}
	switch groupBy {
	case "agent":
		return rec.AgentName, true
	case "project":
		return orUnassigned(rec.ProjectID), true
	case "workflow":
		return orUnassigned(rec.WorkflowID), true
	case "user":
		return rec.UserID, true
	case "day":
		return rec.CreatedAt.UTC().Format("2006-01-02"), true
	case "model":
		return rec.ModelProvider + "/" + rec.ModelName, true
	}
	return "", false
}

func (m *MemStore) GetCostSummary(ctx context.Context, f db.CostSummaryFilter) ([]db.CostSummaryRow, error) {
	if err := m.fail("GetCostSummary"); err != nil {
		return nil, err
	}
	if !db.CostSummaryGroupSupported(f.GroupBy) {
		return nil, fmt.Errorf("unsupported cost summary grouping: group_by='%s'", f.GroupBy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := map[string]*db.CostSummaryRow{}
	latency := map[string]int64{}
	for _, key := range m.state.execOrder {
		rec := m.state.executions[key]
		if rec.TenantID != f.TenantID {
			continue
		}
		if f.From != nil && rec.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !rec.CreatedAt.Before(*f.To) {
			continue
		}
		key, _ := costGroupKey(&rec, f.GroupBy)
		g, ok := groups[key]
		if !ok {
			g = &db.CostSummaryRow{GroupKey: key, TotalCostUSD: decimal.Zero}
			groups[key] = g
		}
		g.ExecutionCount++
		g.InputTokens += rec.InputTokens
		g.OutputTokens += rec.OutputTokens
		g.TotalCostUSD = g.TotalCostUSD.Add(rec.CostUSD)
		latency[key] += rec.LatencyMS
	}

	out := make([]db.CostSummaryRow, 0, len(groups))
	for key, g := range groups {
		g.AvgLatencyMS = float64(latency[key]) / float64(g.ExecutionCount)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalCostUSD.Cmp(out[j].TotalCostUSD); c != 0 {
			return c > 0
		}
		return out[i].GroupKey < out[j].GroupKey
	})
	return out, nil
}

/* Budgets */

func (m *MemStore) CreateBudget(ctx context.Context, b *db.Budget) error {
	if err := m.fail("CreateBudget"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	m.state.budgets[b.ID] = *b
	m.state.budgetOrder = append(m.state.budgetOrder, b.ID)
	return nil
}

func (m *MemStore) GetBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (*db.Budget, error) {
	if err := m.fail("GetBudget"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.state.budgets[id]
	if !ok || b.OwnerTenantID != ownerTenantID {
		return nil, nil
	}
	return &b, nil
}

func (m *MemStore) ListBudgets(ctx context.Context, f db.BudgetFilter) ([]db.Budget, error) {
	if err := m.fail("ListBudgets"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []db.Budget{}
	for i := len(m.state.budgetOrder) - 1; i >= 0; i-- {
		b := m.state.budgets[m.state.budgetOrder[i]]
		if b.OwnerTenantID != f.OwnerTenantID {
			continue
		}
		if f.IsActive != nil && b.IsActive != *f.IsActive {
			continue
		}
		if f.UserID != nil && (b.UserID == nil || *b.UserID != *f.UserID) {
			continue
		}
		if f.ProjectID != nil && (b.ProjectID == nil || *b.ProjectID != *f.ProjectID) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemStore) DeactivateBudget(ctx context.Context, id uuid.UUID, ownerTenantID string) (bool, error) {
	if err := m.fail("DeactivateBudget"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.state.budgets[id]
	if !ok || b.OwnerTenantID != ownerTenantID || !b.IsActive {
		return false, nil
	}
	b.IsActive = false
	b.UpdatedAt = m.Now()
	m.state.budgets[id] = b
	return true, nil
}

func scopeValue(b *db.Budget, kind string) *string {
	switch kind {
	case db.ScopeTenant:
		return b.TenantID
	case db.ScopeUser:
		return b.UserID
	case db.ScopeProject:
		return b.ProjectID
	}
	return nil
}

func (m *MemStore) incrementBudgetSpend(scope db.BudgetScope, amount decimal.Decimal) ([]db.Budget, error) {
	if err := m.fail("IncrementBudgetSpend"); err != nil {
		return nil, err
	}
	if err := m.fail("IncrementBudgetSpend:" + scope.Kind); err != nil {
		return nil, err
	}

	out := []db.Budget{}
	for _, id := range m.state.budgetOrder {
		b := m.state.budgets[id]
		v := scopeValue(&b, scope.Kind)
		if !b.IsActive || b.OwnerTenantID != scope.OwnerTenantID || v == nil || *v != scope.Value {
			continue
		}
		b.CurrentSpendUSD = b.CurrentSpendUSD.Add(amount)
		b.UpdatedAt = m.Now()
		m.state.budgets[id] = b
		out = append(out, b)
	}
	return out, nil
}

func (m *MemStore) IncrementBudgetSpend(ctx context.Context, scope db.BudgetScope, amount decimal.Decimal) ([]db.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementBudgetSpend(scope, amount)
}

func (m *MemStore) ListExpiredBudgets(ctx context.Context, now time.Time, limit int) ([]db.Budget, error) {
	if err := m.fail("ListExpiredBudgets"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []db.Budget{}
	for _, id := range m.state.budgetOrder {
		b := m.state.budgets[id]
		if b.IsActive && b.PeriodEnd != nil && !b.PeriodEnd.After(now) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PeriodEnd.Before(*out[j].PeriodEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) RollBudgetPeriod(ctx context.Context, id uuid.UUID, expectedEnd, newStart time.Time, newEnd *time.Time) (bool, error) {
	if err := m.fail("RollBudgetPeriod"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.state.budgets[id]
	if !ok || b.PeriodEnd == nil || !b.PeriodEnd.Equal(expectedEnd) {
		return false, nil
	}
	b.CurrentSpendUSD = decimal.Zero
	b.PeriodStart = newStart
	b.PeriodEnd = newEnd
	b.UpdatedAt = m.Now()
	m.state.budgets[id] = b
	return true, nil
}

/* Budget alerts */

func (m *MemStore) insertBudgetAlert(a *db.BudgetAlert) (bool, error) {
	if err := m.fail("InsertBudgetAlert"); err != nil {
		return false, err
	}
	for _, existing := range m.state.alerts {
		if existing.BudgetID == a.BudgetID && existing.AlertType == a.AlertType && existing.PeriodStart.Equal(a.PeriodStart) {
			return false, nil
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.Now()
	}
	m.state.alerts = append(m.state.alerts, *a)
	return true, nil
}

func (m *MemStore) InsertBudgetAlert(ctx context.Context, a *db.BudgetAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBudgetAlert(a)
}

func (m *MemStore) ListBudgetAlerts(ctx context.Context, f db.AlertFilter) ([]db.BudgetAlert, error) {
	if err := m.fail("ListBudgetAlerts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []db.BudgetAlert{}
	for i := len(m.state.alerts) - 1; i >= 0; i-- {
		a := m.state.alerts[i]
		if a.OwnerTenantID != f.OwnerTenantID {
			continue
		}
		if f.BudgetID != nil && a.BudgetID != *f.BudgetID {
			continue
		}
		if f.Acknowledged != nil && a.IsAcknowledged != *f.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	return paginate(out, f.Limit, f.Offset), nil
}

func (m *MemStore) AcknowledgeBudgetAlert(ctx context.Context, id uuid.UUID, ownerTenantID, acknowledgedBy string) (*db.BudgetAlert, error) {
	if err := m.fail("AcknowledgeBudgetAlert"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.state.alerts {
		a := &m.state.alerts[i]
		if a.ID != id || a.OwnerTenantID != ownerTenantID {
			continue
		}
		a.IsAcknowledged = true
		by := acknowledgedBy
		a.AcknowledgedBy = &by
		if a.AcknowledgedAt == nil {
			now := m.Now()
			a.AcknowledgedAt = &now
		}
		out := *a
		return &out, nil
	}
	return nil, nil
}

/* Webhooks */

func (m *MemStore) CreateWebhook(ctx context.Context, w *db.Webhook) error {
	if err := m.fail("CreateWebhook"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.webhookNameTaken(w.TenantID, w.Name, w.ID) {
		return uniqueViolation("idx_webhooks_tenant_name")
	}
	now := m.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	if w.CustomHeaders == nil {
		w.CustomHeaders = db.StringMap{}
	}
	m.state.webhooks[w.ID] = *w
	m.state.webhookOrder = append(m.state.webhookOrder, w.ID)
	return nil
}

func (m *MemStore) GetWebhook(ctx context.Context, id uuid.UUID, tenantID string) (*db.Webhook, error) {
	if err := m.fail("GetWebhook"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.state.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, nil
	}
	return &w, nil
}

func (m *MemStore) GetWebhookByID(ctx context.Context, id uuid.UUID) (*db.Webhook, error) {
	if err := m.fail("GetWebhookByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.state.webhooks[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *MemStore) ListWebhooks(ctx context.Context, f db.WebhookFilter) ([]db.Webhook, int, error) {
	if err := m.fail("ListWebhooks"); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []db.Webhook{}
	for i := len(m.state.webhookOrder) - 1; i >= 0; i-- {
		w := m.state.webhooks[m.state.webhookOrder[i]]
		if w.TenantID != f.TenantID {
			continue
		}
		if f.IsActive != nil && w.IsActive != *f.IsActive {
			continue
		}
		out = append(out, w)
	}
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (m *MemStore) UpdateWebhook(ctx context.Context, w *db.Webhook) (bool, error) {
	if err := m.fail("UpdateWebhook"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.state.webhooks[w.ID]
	if !ok || cur.TenantID != w.TenantID {
		return false, nil
	}
	if m.webhookNameTaken(w.TenantID, w.Name, w.ID) {
		return false, uniqueViolation("idx_webhooks_tenant_name")
	}
	cur.Name = w.Name
	cur.URL = w.URL
	cur.Description = w.Description
	cur.Events = w.Events
	cur.ProjectFilter = w.ProjectFilter
	cur.WorkflowFilter = w.WorkflowFilter
	cur.MaxRetries = w.MaxRetries
	cur.RetryDelaySeconds = w.RetryDelaySeconds
	cur.TimeoutSeconds = w.TimeoutSeconds
	cur.CustomHeaders = w.CustomHeaders
	cur.IsActive = w.IsActive
	cur.UpdatedAt = m.Now()
	m.state.webhooks[w.ID] = cur
	w.UpdatedAt = cur.UpdatedAt
	return true, nil
}

/* webhookNameTaken reports whether another webhook of the tenant has name; mu must be held */
func (m *MemStore) webhookNameTaken(tenantID, name string, except uuid.UUID) bool {
	for id, w := range m.state.webhooks {
		if id != except && w.TenantID == tenantID && w.Name == name {
			return true
		}
	}
	return false
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint", Constraint: constraint}
}

func (m *MemStore) DeleteWebhook(ctx context.Context, id uuid.UUID, tenantID string) (bool, error) {
	if err := m.fail("DeleteWebhook"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.state.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return false, nil
	}
	delete(m.state.webhooks, id)
	m.state.webhookOrder = removeID(m.state.webhookOrder, id)

	/* deliveries cascade */
	kept := m.state.deliveryOrd[:0]
	for _, did := range m.state.deliveryOrd {
		if m.state.deliveries[did].WebhookID == id {
			delete(m.state.deliveries, did)
			continue
		}
		kept = append(kept, did)
	}
	m.state.deliveryOrd = kept
	return true, nil
}

func (m *MemStore) UpdateWebhookSecret(ctx context.Context, id uuid.UUID, tenantID, secret string) (bool, error) {
	if err := m.fail("UpdateWebhookSecret"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.state.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return false, nil
	}
	w.SecretKey = secret
	w.IsVerified = false
	w.UpdatedAt = m.Now()
	m.state.webhooks[id] = w
	return true, nil
}

func (m *MemStore) RecordWebhookResult(ctx context.Context, id uuid.UUID, success bool, at time.Time) error {
	if err := m.fail("RecordWebhookResult"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.state.webhooks[id]
	if !ok {
		return nil
	}
	w.TotalDeliveries++
	if success {
		w.SuccessfulDeliveries++
		w.IsVerified = true
	} else {
		w.FailedDeliveries++
	}
	t := at
	w.LastTriggeredAt = &t
	m.state.webhooks[id] = w
	return nil
}

/* GetWebhooksForEvent applies the same matching rules as get_webhooks_for_event */
func (m *MemStore) GetWebhooksForEvent(ctx context.Context, tenantID, eventType string, projectID, workflowID *string) ([]db.Webhook, error) {
	if err := m.fail("GetWebhooksForEvent"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := func(filter, value *string) bool {
		return filter == nil || (value != nil && *filter == *value)
	}

	out := []db.Webhook{}
	for _, id := range m.state.webhookOrder {
		w := m.state.webhooks[id]
		if w.TenantID != tenantID || !w.IsActive {
			continue
		}
		if !containsString(w.Events, eventType) {
			continue
		}
		if !matches(w.ProjectFilter, projectID) || !matches(w.WorkflowFilter, workflowID) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *MemStore) GetWebhookHealth(ctx context.Context, id uuid.UUID, tenantID string, failedSince time.Time) (*db.WebhookHealth, error) {
	if err := m.fail("GetWebhookHealth"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.state.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, nil
	}
	h := &db.WebhookHealth{
		WebhookID:            w.ID,
		Name:                 w.Name,
		URL:                  w.URL,
		IsActive:             w.IsActive,
		IsVerified:           w.IsVerified,
		TotalDeliveries:      w.TotalDeliveries,
		SuccessfulDeliveries: w.SuccessfulDeliveries,
		FailedDeliveries:     w.FailedDeliveries,
		LastTriggeredAt:      w.LastTriggeredAt,
	}
	for _, d := range m.state.deliveries {
		if d.WebhookID != id {
			continue
		}
		switch {
		case d.Status == db.DeliveryPending:
			h.PendingCount++
		case d.Status == db.DeliveryRetrying:
			h.RetryingCount++
		case d.Status == db.DeliveryFailed && !d.UpdatedAt.Before(failedSince):
			h.RecentFailedCount++
		}
	}
	return h, nil
}

/* Deliveries */

func (m *MemStore) CreateWebhookDelivery(ctx context.Context, d *db.WebhookDelivery) error {
	if err := m.fail("CreateWebhookDelivery"); err != nil {
		return err
	}
	m.failMu.Lock()
	derr := m.deliveryFailures[d.WebhookID]
	m.failMu.Unlock()
	if derr != nil {
		return derr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.ScheduledAt.IsZero() {
		d.ScheduledAt = now
	}
	m.state.deliveries[d.ID] = *d
	m.state.deliveryOrd = append(m.state.deliveryOrd, d.ID)
	return nil
}

func (m *MemStore) GetDelivery(ctx context.Context, id uuid.UUID) (*db.WebhookDelivery, error) {
	if err := m.fail("GetDelivery"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.deliveries[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemStore) GetTenantDelivery(ctx context.Context, id, webhookID uuid.UUID, tenantID string) (*db.WebhookDelivery, error) {
	if err := m.fail("GetTenantDelivery"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.deliveries[id]
	if !ok || d.WebhookID != webhookID || d.TenantID != tenantID {
		return nil, nil
	}
	return &d, nil
}

func (m *MemStore) ListWebhookDeliveries(ctx context.Context, f db.DeliveryFilter) ([]db.WebhookDelivery, error) {
	if err := m.fail("ListWebhookDeliveries"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []db.WebhookDelivery{}
	for i := len(m.state.deliveryOrd) - 1; i >= 0; i-- {
		d := m.state.deliveries[m.state.deliveryOrd[i]]
		if d.WebhookID != f.WebhookID || d.TenantID != f.TenantID {
			continue
		}
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		out = append(out, d)
	}
	return paginate(out, f.Limit, f.Offset), nil
}

func (m *MemStore) BeginDeliveryAttempt(ctx context.Context, id uuid.UUID, claim db.DeliveryClaim) (*db.WebhookDelivery, error) {
	if err := m.fail("BeginDeliveryAttempt"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.deliveries[id]
	if !ok || (d.Status != db.DeliveryPending && d.Status != db.DeliveryRetrying) {
		return nil, nil
	}
	if d.Attempts >= d.MaxAttempts || d.HeldByOther(claim) {
		return nil, nil
	}
	d.Attempts++
	lease, token := claim.Until, claim.Token
	d.ClaimedUntil = &lease
	d.ClaimToken = &token
	d.UpdatedAt = m.Now()
	m.state.deliveries[id] = d
	return &d, nil
}

func (m *MemStore) CompleteDeliveryAttempt(ctx context.Context, id uuid.UUID, out db.DeliveryOutcome) error {
	if err := m.fail("CompleteDeliveryAttempt"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.deliveries[id]
	if !ok {
		return nil
	}
	if out.Success {
		d.Status = db.DeliveryDelivered
		at := out.At
		d.DeliveredAt = &at
	} else {
		d.Status = db.DeliveryFailed
	}
	d.HTTPStatusCode = out.HTTPStatusCode
	d.ResponseBody = out.ResponseBody
	d.ResponseHeaders = out.ResponseHeaders
	d.ErrorMessage = out.ErrorMessage
	d.NextRetryAt = nil
	d.ClaimedUntil = nil
	d.UpdatedAt = out.At
	m.state.deliveries[id] = d
	return nil
}

func (m *MemStore) ScheduleDeliveryRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) (bool, error) {
	if err := m.fail("ScheduleDeliveryRetry"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.deliveries[id]
	if !ok || d.Status != db.DeliveryFailed || d.Attempts >= d.MaxAttempts {
		return false, nil
	}
	d.Status = db.DeliveryRetrying
	next := nextRetryAt
	d.NextRetryAt = &next
	d.UpdatedAt = m.Now()
	m.state.deliveries[id] = d
	return true, nil
}

func (m *MemStore) ParkDelivery(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := m.fail("ParkDelivery"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.deliveries[id]
	if !ok || (d.Status != db.DeliveryPending && d.Status != db.DeliveryRetrying) {
		return nil
	}
	d.Status = db.DeliveryRetrying
	next := at
	d.NextRetryAt = &next
	d.ClaimedUntil = nil
	d.UpdatedAt = m.Now()
	m.state.deliveries[id] = d
	return nil
}

func (m *MemStore) ClaimDueDeliveries(ctx context.Context, claim db.DeliveryClaim, pendingBefore time.Time, limit int) ([]db.WebhookDelivery, error) {
	if err := m.fail("ClaimDueDeliveries"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := claim.Now
	due := []db.WebhookDelivery{}
	for _, id := range m.state.deliveryOrd {
		d := m.state.deliveries[id]
		w, ok := m.state.webhooks[d.WebhookID]
		if !ok || !w.IsActive {
			continue
		}
		retryDue := d.Status == db.DeliveryRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now)
		staleDue := d.Status == db.DeliveryPending && !d.ScheduledAt.After(pendingBefore)
		if !retryDue && !staleDue {
			continue
		}
		if d.ClaimedUntil != nil && !d.ClaimedUntil.Before(now) {
			continue
		}
		due = append(due, d)
	}

	dueAt := func(d *db.WebhookDelivery) time.Time {
		if d.NextRetryAt != nil {
			return *d.NextRetryAt
		}
		return d.ScheduledAt
	}
	sort.SliceStable(due, func(i, j int) bool { return dueAt(&due[i]).Before(dueAt(&due[j])) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		lease, token := claim.Until, claim.Token
		due[i].ClaimedUntil = &lease
		due[i].ClaimToken = &token
		due[i].UpdatedAt = m.Now()
		m.state.deliveries[due[i].ID] = due[i]
	}
	return due, nil
}

func (m *MemStore) RedeliverDelivery(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) (*db.WebhookDelivery, error) {
	if err := m.fail("RedeliverDelivery"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.deliveries[id]
	if !ok || d.TenantID != tenantID || d.Status != db.DeliveryFailed {
		return nil, nil
	}
	d.Status = db.DeliveryRetrying
	next := at
	d.NextRetryAt = &next
	d.MaxAttempts = d.Attempts + 1
	d.ClaimedUntil = nil
	d.UpdatedAt = m.Now()
	m.state.deliveries[id] = d
	return &d, nil
}

/* Event log */

func (m *MemStore) InsertEventLog(ctx context.Context, e *db.EventLogEntry) error {
	if err := m.fail("InsertEventLog"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.Now()
	}
	m.state.events = append(m.state.events, *e)
	return nil
}

func (m *MemStore) UpdateEventWebhookCount(ctx context.Context, id uuid.UUID, count int) error {
	if err := m.fail("UpdateEventWebhookCount"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.state.events {
		if m.state.events[i].ID == id {
			m.state.events[i].WebhookCount = count
		}
	}
	return nil
}

func (m *MemStore) ListEventLog(ctx context.Context, f db.EventFilter) ([]db.EventLogEntry, error) {
	if err := m.fail("ListEventLog"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []db.EventLogEntry{}
	for i := len(m.state.events) - 1; i >= 0; i-- {
		e := m.state.events[i]
		if e.TenantID != f.TenantID {
			continue
		}
		if f.EventType != nil && e.EventType != *f.EventType {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, f.Limit, f.Offset), nil
}

/* Test accessors */

/* PutBudget stores b as-is */
func (m *MemStore) PutBudget(b db.Budget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.budgets[b.ID]; !ok {
		m.state.budgetOrder = append(m.state.budgetOrder, b.ID)
	}
	m.state.budgets[b.ID] = b
}

/* Budget returns the stored budget */
func (m *MemStore) Budget(id uuid.UUID) (db.Budget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.budgets[id]
	return b, ok
}

/* Alerts returns every stored alert in insertion order */
func (m *MemStore) Alerts() []db.BudgetAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.BudgetAlert(nil), m.state.alerts...)
}

/* Executions returns every stored execution in insertion order */
func (m *MemStore) Executions() []db.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.ExecutionRecord, 0, len(m.state.execOrder))
	for _, id := range m.state.execOrder {
		out = append(out, m.state.executions[id])
	}
	return out
}

/* PutWebhook stores w as-is */
func (m *MemStore) PutWebhook(w db.Webhook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = m.Now()
	}
	if _, ok := m.state.webhooks[w.ID]; !ok {
		m.state.webhookOrder = append(m.state.webhookOrder, w.ID)
	}
	m.state.webhooks[w.ID] = w
}

/* Webhook returns the stored webhook */
func (m *MemStore) Webhook(id uuid.UUID) (db.Webhook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.webhooks[id]
	return w, ok
}

/* PutDelivery stores d as-is */
func (m *MemStore) PutDelivery(d db.WebhookDelivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.deliveries[d.ID]; !ok {
		m.state.deliveryOrd = append(m.state.deliveryOrd, d.ID)
	}
	m.state.deliveries[d.ID] = d
}

/* Delivery returns the stored delivery */
func (m *MemStore) Delivery(id uuid.UUID) (db.WebhookDelivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.deliveries[id]
	return d, ok
}

/* Deliveries returns every stored delivery in insertion order */
func (m *MemStore) Deliveries() []db.WebhookDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.WebhookDelivery, 0, len(m.state.deliveryOrd))
	for _, id := range m.state.deliveryOrd {
		out = append(out, m.state.deliveries[id])
	}
	return out
}

/* Events returns every logged event in insertion order */
func (m *MemStore) Events() []db.EventLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.EventLogEntry(nil), m.state.events...)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
