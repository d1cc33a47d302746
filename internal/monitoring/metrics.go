package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	outboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_outbox_published_total",
			Help: "Outbox rows successfully published to the stream broker",
		},
		[]string{"topic"},
	)

	outboxPublishFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_outbox_publish_failed_total",
			Help: "Outbox publish attempts that failed and were returned for retry",
		},
		[]string{"topic"},
	)

	outboxPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commerce_outbox_publish_duration_seconds",
			Help:    "Duration of one publisher batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	outboxBacklogGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commerce_outbox_backlog",
			Help: "Unsent outbox rows still eligible for publishing",
		},
	)

	outboxDeadGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commerce_outbox_dead",
			Help: "Unsent outbox rows that exhausted their attempts",
		},
	)

	queueJobsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "commerce_queue_jobs",
			Help: "Task queue depth by queue and state",
		},
		[]string{"queue", "state"},
	)

	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_jobs_processed_total",
			Help: "Task queue jobs processed by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_inventory_reservations_total",
			Help: "Reservation attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	casRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commerce_inventory_cas_retries_total",
			Help: "Optimistic strategy version-CAS retries",
		},
	)

	webhooksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_webhooks_processed_total",
			Help: "Webhook deliveries by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commerce_payment_provider_call_duration_seconds",
			Help:    "Payment provider call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)
)

func RecordOutboxPublished(topic string)     { outboxPublishedTotal.WithLabelValues(topic).Inc() }
func RecordOutboxPublishFailed(topic string) { outboxPublishFailedTotal.WithLabelValues(topic).Inc() }

func ObserveOutboxBatch(d time.Duration) { outboxPublishDuration.Observe(d.Seconds()) }

func SetOutboxBacklog(n int64) { outboxBacklogGauge.Set(float64(n)) }
func SetOutboxDead(n int64)    { outboxDeadGauge.Set(float64(n)) }

func SetQueueDepth(queue, state string, n int64) {
	queueJobsGauge.WithLabelValues(queue, state).Set(float64(n))
}

func RecordJobProcessed(queue, outcome string) {
	jobsProcessedTotal.WithLabelValues(queue, outcome).Inc()
}

func RecordReservation(strategy, outcome string) {
	reservationsTotal.WithLabelValues(strategy, outcome).Inc()
}

func RecordCASRetry() { casRetriesTotal.Inc() }

func RecordWebhookProcessed(eventType, outcome string) {
	webhooksProcessedTotal.WithLabelValues(eventType, outcome).Inc()
}

func ObserveProviderCall(operation string, d time.Duration) {
	providerCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// MetricsHandler returns the Prometheus metrics handler for the ops router.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
