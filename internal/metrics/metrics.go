// Package metrics exposes prometheus instruments for the form service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadmagnet_webhook_requests_total",
		Help: "Remote question service attempts by outcome",
	}, []string{"outcome"}) // outcome=ok|transport|status|timeout|protocol

	webhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadmagnet_webhook_request_duration_seconds",
		Help:    "Latency of single remote question service attempts",
		Buckets: prometheus.DefBuckets,
	})

	webhookRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadmagnet_webhook_retries_total",
		Help: "Retries issued after a failed remote attempt",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadmagnet_session_transitions_total",
		Help: "Session state machine transitions by kind",
	}, []string{"transition"}) // transition=initialize|start|advance|finish|fallback|stall|back|reset

	validationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadmagnet_validation_failures_total",
		Help: "Answers rejected by local validation",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leadmagnet_active_sessions",
		Help: "Orchestrators currently held in memory",
	})

	sweptSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadmagnet_swept_snapshots_total",
		Help: "Persisted snapshots removed by the TTL sweeper",
	})
)

// ObserveWebhook records one remote attempt.
func ObserveWebhook(outcome string, elapsed time.Duration) {
	webhookRequestsTotal.WithLabelValues(outcome).Inc()
	webhookDuration.Observe(elapsed.Seconds())
}

// IncWebhookRetry counts a retry.
func IncWebhookRetry() {
	webhookRetriesTotal.Inc()
}

// IncTransition counts a state machine transition.
func IncTransition(name string) {
	transitionsTotal.WithLabelValues(name).Inc()
}

// IncValidationFailure counts a rejected answer.
func IncValidationFailure() {
	validationFailuresTotal.Inc()
}

// SetActiveSessions reports the size of the in-memory registry.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// AddSwept counts snapshots deleted by the sweeper.
func AddSwept(n int64) {
	if n > 0 {
		sweptSnapshotsTotal.Add(float64(n))
	}
}
