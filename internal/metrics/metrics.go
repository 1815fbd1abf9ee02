package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Ledger
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_transactions_total",
			Help: "Total committed credit transactions",
		},
		[]string{"type"}, // PURCHASE|USAGE|MONTHLY_REFRESH
	)
	TransactionsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_transactions_failed_total",
			Help: "Total rejected or failed credit transactions",
		},
		[]string{"reason"},
	)

	// Batch refresh
	RefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_refresh_runs_total",
			Help: "Total batch refresh runs",
		},
		[]string{"trigger", "result"},
	)
	RefreshOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_refresh_outcomes_total",
			Help: "Per-account batch refresh outcomes",
		},
		[]string{"status"}, // applied|skipped|failed
	)
	RefreshRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credit_refresh_run_duration_seconds",
			Help:    "Duration of batch refresh runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	registerOnce sync.Once
)

// Handler serves the /metrics endpoint
var Handler = promhttp.Handler

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestLatency)
		prometheus.MustRegister(TransactionsTotal)
		prometheus.MustRegister(TransactionsFailed)
		prometheus.MustRegister(RefreshRunsTotal)
		prometheus.MustRegister(RefreshOutcomesTotal)
		prometheus.MustRegister(RefreshRunDuration)
	})
}
