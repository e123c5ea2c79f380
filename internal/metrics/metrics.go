// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	adapterCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_adapter_calls_total",
			Help: "Calls made to channel adapters, labeled by source, operation and status.",
		},
		[]string{"source", "op", "status"},
	)
	tokenExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_token_exchanges_total",
			Help: "Bearer token exchanges against the identity backend.",
		},
		[]string{"status"},
	)
	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_notifications_total",
			Help: "Notification dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	reconcileRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_reconcile_records_total",
			Help: "Upstream booking records seen by reconciliation, by outcome.",
		},
		[]string{"outcome"},
	)
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_scheduler_run_duration_seconds",
			Help:    "Duration of periodic scheduler jobs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveAdapterCall records one adapter call.
func ObserveAdapterCall(source, op string, err error) {
	adapterCalls.WithLabelValues(source, op, status(err)).Inc()
}

func ObserveTokenExchange(err error) {
	tokenExchanges.WithLabelValues(status(err)).Inc()
}

// IncNotification counts a dispatch outcome: sent, failed, scheduled.
func IncNotification(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

// IncReconcileRecord counts a reconciliation outcome: processed, skipped, invalid, failed.
func IncReconcileRecord(outcome string) {
	reconcileRecords.WithLabelValues(outcome).Inc()
}

func ObserveRun(job string, started time.Time) {
	runDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}
