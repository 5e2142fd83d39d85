package ledger

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusTxCommit         prometheus.Counter
	prometheusTxRollback       prometheus.Counter
	prometheusTxConflict       prometheus.Counter
	prometheusHandlerFailures  *prometheus.CounterVec
	prometheusTransfers        *prometheus.CounterVec
	prometheusCommitDuration   prometheus.Histogram
	prometheusNoticesPublished prometheus.Counter

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusTxCommit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_tx_commit",
			Help: "Number of transactions committed",
		},
	)
	prometheusTxRollback = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_tx_rollback",
			Help: "Number of transactions rolled back",
		},
	)
	prometheusTxConflict = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_tx_conflict_rejected",
			Help: "Number of transactions rejected by conflict detection",
		},
	)
	prometheusHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_handler_failures",
			Help: "Number of type handler failures",
		},
		[]string{
			"phase", // approval, commit or rollback
			"type",  // transaction type
		},
	)
	prometheusTransfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transfers",
			Help: "Number of locally built transfer and lock transactions",
		},
		[]string{
			"type",   // transaction type
			"result", // ok or error
		},
	)
	prometheusCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_commit_seconds",
			Help:    "Duration of transaction commits",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
	prometheusNoticesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_notices_published",
			Help: "Number of domain notices handed to the broadcaster",
		},
	)
}
