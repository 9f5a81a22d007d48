package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	TGIncomingUpdates *prometheus.CounterVec
	TGOutgoingCalls   *prometheus.CounterVec
	TGCallLatency     *prometheus.HistogramVec
	LedgerOps         *prometheus.CounterVec
	QueueDecisions    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	OutboxSent        *prometheus.CounterVec
	AdsPosted         prometheus.Counter
	ReferralGrants    prometheus.Counter
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			TGIncomingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_incoming_updates_total",
				Help:      "Total incoming transport updates processed.",
			}, []string{"type"}),
			TGOutgoingCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_outgoing_calls_total",
				Help:      "Total outgoing transport API calls by method and status.",
			}, []string{"method", "status"}),
			TGCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tg_call_duration_seconds",
				Help:      "Latency distribution for transport API calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "status"}),
			LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Total ledger primitive invocations by operation and outcome.",
			}, []string{"op", "outcome"}),
			QueueDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_decisions_total",
				Help:      "Total operator decisions on pending requests.",
			}, []string{"decision"}),
			QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_pending_requests",
				Help:      "Pending requests currently awaiting an operator.",
			}),
			OutboxSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_notifications_total",
				Help:      "Outbox rows processed by delivery status.",
			}, []string{"status"}),
			AdsPosted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_ads_posted_total",
				Help:      "Promotional posts published to the broadcast channel.",
			}),
			ReferralGrants: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "referral_discounts_granted_total",
				Help:      "Discounts granted by satisfied referral goals.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.TGIncomingUpdates,
			metricsInstance.TGOutgoingCalls,
			metricsInstance.TGCallLatency,
			metricsInstance.LedgerOps,
			metricsInstance.QueueDecisions,
			metricsInstance.QueueDepth,
			metricsInstance.OutboxSent,
			metricsInstance.AdsPosted,
			metricsInstance.ReferralGrants,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
