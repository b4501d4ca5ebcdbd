// Package metrics registers the service's Prometheus collectors on the
// default registry, which /metrics exposes.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const namespace = "spei_ledger"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Applied transaction status transitions",
	}, []string{"from", "to", "source"})

	transitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_rejected_total",
		Help:      "Transition requests rejected by the state machine",
	}, []string{"reason", "source"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_total",
		Help:      "Processor notifications by outcome",
	}, []string{"type", "outcome"})

	webhookAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_payload_mismatch_total",
		Help:      "Redelivered notifications whose payload differs from the original",
	}, []string{"type"})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Outgoing transfers submitted to the processor by result",
	}, []string{"result"})

	outboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_messages_total",
		Help:      "Outbox messages handled by result",
	}, []string{"result"})

	reconciliationItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconciliation_last_run_items",
		Help:      "Item counts of the last reconciliation run",
	}, []string{"result"})

	reconciliationDiscrepancy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconciliation_discrepancy",
		Help:      "Remote minus local balance at the last reconciliation run",
	})

	reconciliationLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconciliation_last_run_timestamp_seconds",
		Help:      "Unix time the last reconciliation run finished",
	})
)

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func TransitionApplied(from, to, source string) {
	transitionsTotal.WithLabelValues(from, to, source).Inc()
}

func TransitionRejected(reason, source string) {
	transitionsRejectedTotal.WithLabelValues(reason, source).Inc()
}

func WebhookHandled(webhookType, outcome string) {
	webhooksTotal.WithLabelValues(webhookType, outcome).Inc()
}

func WebhookPayloadMismatch(webhookType string) {
	webhookAnomaliesTotal.WithLabelValues(webhookType).Inc()
}

func Dispatched(result string) {
	dispatchTotal.WithLabelValues(result).Inc()
}

func OutboxHandled(result string) {
	outboxPublishedTotal.WithLabelValues(result).Inc()
}

// ReconciliationRun holds the figures exported after a run.
type ReconciliationRun struct {
	Inserted    int
	Updated     int
	Unchanged   int
	Errored     int
	Discrepancy *decimal.Decimal
	FinishedAt  time.Time
}

// ReconciliationFinished replaces the last-run gauges.
func ReconciliationFinished(r ReconciliationRun) {
	reconciliationItems.WithLabelValues("inserted").Set(float64(r.Inserted))
	reconciliationItems.WithLabelValues("updated").Set(float64(r.Updated))
	reconciliationItems.WithLabelValues("unchanged").Set(float64(r.Unchanged))
	reconciliationItems.WithLabelValues("errored").Set(float64(r.Errored))
	if r.Discrepancy != nil {
		reconciliationDiscrepancy.Set(r.Discrepancy.InexactFloat64())
	}
	reconciliationLastRun.Set(float64(r.FinishedAt.Unix()))
}
