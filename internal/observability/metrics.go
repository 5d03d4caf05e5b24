package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the keeper.
type Metrics struct {
	// --- Block processing ---
	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram
	TickErrors   *prometheus.CounterVec
	LastBlock    prometheus.Gauge

	// --- Facilitation ---
	Confirmations prometheus.Gauge
	Phase         prometheus.Gauge
	Actions       *prometheus.CounterVec
	Reconciles    *prometheus.CounterVec

	// --- Transactions ---
	Transactions *prometheus.CounterVec
	TxDuration   *prometheus.HistogramVec

	// --- Chain reads ---
	RPCDuration *prometheus.HistogramVec
	RPCErrors   *prometheus.CounterVec

	// --- Audit trail ---
	AuditPublished prometheus.Counter
	AuditDrops     prometheus.Counter

	// --- Urn index ---
	IndexBatchDur    prometheus.Histogram
	IndexRowsWritten prometheus.Counter
	IndexLastBlock   prometheus.Gauge
	IndexErrors      *prometheus.CounterVec

	// --- Status API ---
	QueryRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all keeper metrics on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	rpcBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		// Block processing
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "cage_keeper_ticks_total",
			Help: "Blocks handled",
		}),

		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cage_keeper_tick_duration_seconds",
			Help:    "Time to handle one block",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		TickErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cage_keeper_tick_errors_total",
			Help: "Ticks that ended with an error, by error kind",
		}, []string{"kind"}),

		LastBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "cage_keeper_last_block",
			Help: "Number of the last handled block",
		}),

		// Facilitation
		Confirmations: f.NewGauge(prometheus.GaugeOpts{
			Name: "cage_keeper_confirmations",
			Help: "Consecutive blocks with the shutdown trigger set",
		}),

		Phase: f.NewGauge(prometheus.GaugeOpts{
			Name: "cage_keeper_phase",
			Help: "Facilitation phase (0 waiting, 1 counting, 2 processing, 3 cooldown, 4 complete)",
		}),

		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cage_keeper_actions_total",
			Help: "Keeper actions taken",
		}, []string{"kind", "outcome"}),

		Reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cage_keeper_reconcile_total",
			Help: "Surplus/debt reconciliation rounds",
		}, []string{"outcome"}),

		// Transactions
		Transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cage_keeper_transactions_total",
			Help: "Transactions submitted",
		}, []string{"method", "outcome"}),

		TxDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cage_keeper_transaction_duration_seconds",
			Help:    "Submission to receipt latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60, 120, 300},
		}, []string{"method"}),

		// Chain reads
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cage_keeper_rpc_duration_seconds",
			Help:    "JSON-RPC call latency",
			Buckets: rpcBuckets,
		}, []string{"method"}),

		RPCErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cage_keeper_rpc_errors_total",
			Help: "JSON-RPC call failures",
		}, []string{"method"}),

		// Audit trail
		AuditPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "cage_keeper_audit_published_total",
			Help: "Audit envelopes published",
		}),

		AuditDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "cage_keeper_audit_drops_total",
			Help: "Audit envelopes dropped due to a full publish channel",
		}),

		// Urn index
		IndexBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cage_keeper_index_batch_duration_seconds",
			Help:    "Time to write one urn index batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		IndexRowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "cage_keeper_index_rows_written_total",
			Help: "Urn index rows written",
		}),

		IndexLastBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "cage_keeper_index_last_block",
			Help: "Last block covered by the urn index",
		}),

		IndexErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cage_keeper_index_errors_total",
			Help: "Urn index failures by stage",
		}, []string{"stage"}),

		// Status API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cage_keeper_query_requests_total",
			Help: "Status API requests",
		}, []string{"endpoint", "status"}),
	}
}

// ObserveAction counts one keeper action.
func (m *Metrics) ObserveAction(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Actions.WithLabelValues(kind, outcome).Inc()
}
