/*-------------------------------------------------------------------------
 *
 * prometheus.go
 *    Prometheus metrics for the ledger service
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/metrics/prometheus.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	/* Request metrics */
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurondb_ledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	/* Cost metrics */
	executionsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_executions_recorded_total",
			Help: "Total number of execution records processed",
		},
		[]string{"status", "result"},
	)

	costUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_cost_usd_total",
			Help: "Total cost recorded in USD",
		},
		[]string{"provider", "model"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_tokens_total",
			Help: "Total number of tokens recorded",
		},
		[]string{"provider", "type"},
	)

	/* Budget metrics */
	budgetAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_budget_alerts_total",
			Help: "Total number of budget alerts raised",
		},
		[]string{"alert_type"},
	)

	budgetCheckFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_budget_check_failures_total",
			Help: "Total number of budget checks that failed and were treated as unknown",
		},
		[]string{"scope"},
	)

	budgetRolloversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_budget_rollovers_total",
			Help: "Total number of budget periods rolled over",
		},
	)

	/* Event metrics */
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"event_type"},
	)

	eventWebhooksMatched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neurondb_ledger_event_webhooks_matched",
			Help:    "Number of webhooks matched per published event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	eventStreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurondb_ledger_event_stream_subscribers",
			Help: "Number of connected event stream subscribers",
		},
	)

	/* Webhook delivery metrics */
	deliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_webhook_delivery_attempts_total",
			Help: "Total number of webhook delivery attempts by resulting status",
		},
		[]string{"event_type", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurondb_ledger_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery HTTP round trip in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"event_type"},
	)

	deliveryScheduleFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_webhook_schedule_failures_total",
			Help: "Total number of deliveries that could not be scheduled",
		},
	)

	deliveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurondb_ledger_webhook_queue_depth",
			Help: "Number of deliveries waiting in the in-process queue",
		},
	)

	retrySweepClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_webhook_retry_sweep_claimed_total",
			Help: "Total number of deliveries claimed by the retry sweep",
		},
	)

	/* Job metrics */
	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_ledger_job_runs_total",
			Help: "Total number of periodic job runs",
		},
		[]string{"job", "status"},
	)

	jobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurondb_ledger_job_run_duration_seconds",
			Help:    "Periodic job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	/* Database metrics */
	dbPoolOpenConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neurondb_ledger_db_pool_open_connections",
			Help: "Number of open database connections",
		},
		[]string{"database"},
	)

	dbPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neurondb_ledger_db_pool_idle_connections",
			Help: "Number of idle database connections",
		},
		[]string{"database"},
	)

	dbPoolInUseConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neurondb_ledger_db_pool_in_use_connections",
			Help: "Number of in-use database connections",
		},
		[]string{"database"},
	)
)

/* RecordHTTPRequest records an HTTP request */
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	statusClass := "unknown"
	if status >= 200 && status < 300 {
		statusClass = "2xx"
	} else if status >= 300 && status < 400 {
		statusClass = "3xx"
	} else if status >= 400 && status < 500 {
		statusClass = "4xx"
	} else if status >= 500 {
		statusClass = "5xx"
	}

	httpRequestsTotal.WithLabelValues(method, endpoint, statusClass).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

/* RecordExecution records a processed execution; result is recorded, duplicate or error */
func RecordExecution(status, result string) {
	executionsRecordedTotal.WithLabelValues(status, result).Inc()
}

/* RecordCost records cost and token usage for one execution */
func RecordCost(provider, model string, costUSD float64, inputTokens, outputTokens int64) {
	costUSDTotal.WithLabelValues(provider, model).Add(costUSD)
	tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

/* RecordBudgetAlert records a newly raised budget alert */
func RecordBudgetAlert(alertType string) {
	budgetAlertsTotal.WithLabelValues(alertType).Inc()
}

/* RecordBudgetCheckFailure records a budget check that could not complete */
func RecordBudgetCheckFailure(scope string) {
	budgetCheckFailuresTotal.WithLabelValues(scope).Inc()
}

/* RecordBudgetRollovers records rolled over budget periods */
func RecordBudgetRollovers(n int) {
	budgetRolloversTotal.Add(float64(n))
}

/* RecordEventPublished records a published event and its fan-out width */
func RecordEventPublished(eventType string, webhookCount int) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
	eventWebhooksMatched.Observe(float64(webhookCount))
}

/* SetEventStreamSubscribers sets the live stream subscriber count */
func SetEventStreamSubscribers(n int) {
	eventStreamSubscribers.Set(float64(n))
}

/* RecordDeliveryAttempt records one webhook delivery attempt */
func RecordDeliveryAttempt(eventType, status string, duration time.Duration) {
	deliveryAttemptsTotal.WithLabelValues(eventType, status).Inc()
	deliveryDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

/* RecordDeliveryScheduleFailure records a delivery that could not be scheduled */
func RecordDeliveryScheduleFailure() {
	deliveryScheduleFailuresTotal.Inc()
}

/* SetDeliveryQueueDepth sets the in-process delivery queue depth */
func SetDeliveryQueueDepth(n int) {
	deliveryQueueDepth.Set(float64(n))
}

/* RecordRetrySweepClaimed records deliveries claimed by one sweep */
func RecordRetrySweepClaimed(n int) {
	retrySweepClaimedTotal.Add(float64(n))
}

/* RecordJobRun records one run of a periodic job */
func RecordJobRun(job, status string, duration time.Duration) {
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

/* RecordDBPoolStats records database connection pool statistics */
func RecordDBPoolStats(database string, openConns, idleConns, inUse int) {
	dbPoolOpenConns.WithLabelValues(database).Set(float64(openConns))
	dbPoolIdleConns.WithLabelValues(database).Set(float64(idleConns))
	dbPoolInUseConns.WithLabelValues(database).Set(float64(inUse))
}

/* Handler returns the Prometheus metrics handler */
func Handler() http.Handler {
	return promhttp.Handler()
}
