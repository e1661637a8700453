package metrics

import (
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	settlementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_requests_total",
			Help: "Settlement calls by action and result code",
		},
		[]string{"action", "result"},
	)

	settlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_request_duration_ms",
			Help:    "Settlement call duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"action"},
	)

	idempotencyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_outcomes_total",
			Help: "Idempotency guard decisions (executed, replayed, conflict, in_progress)",
		},
		[]string{"outcome"},
	)

	withdrawalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal transitions by target status and result code",
		},
		[]string{"to", "result"},
	)

	depositTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposit_webhooks_total",
			Help: "Deposit webhook responses by status",
		},
		[]string{"status"},
	)

	eventPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Outbound domain events by backend and result",
		},
		[]string{"backend", "result"},
	)

	idempotencyPurged = expvar.NewInt("idempotency_purged_total")
)

// RecordSettlement records one settlement call. result is "ok" or an error code.
func RecordSettlement(action, result string, started time.Time) {
	settlementTotal.WithLabelValues(action, result).Inc()
	settlementDuration.WithLabelValues(action).Observe(float64(time.Since(started).Microseconds()) / 1000)
}

func RecordIdempotency(outcome string) {
	idempotencyTotal.WithLabelValues(outcome).Inc()
}

func AddIdempotencyPurged(n int64) {
	idempotencyPurged.Add(n)
}

func RecordWithdrawalTransition(to, result string) {
	withdrawalTotal.WithLabelValues(to, result).Inc()
}

func RecordDeposit(status string) {
	depositTotal.WithLabelValues(status).Inc()
}

func RecordEventPublish(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	eventPublishTotal.WithLabelValues(backend, result).Inc()
}

// Handler serves the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
