package application

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	txsTotal     *prometheus.CounterVec
	blockHeight  prometheus.Gauge
	blockTxs     prometheus.Histogram
	poolPending  prometheus.Gauge
	keeperTvl    prometheus.Gauge
	keeperPosted prometheus.Counter
}

// NewMetrics creates and registers the metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		txsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yieldchain_transactions_total",
			Help: "Transactions applied, labeled by kind and receipt status.",
		}, []string{"kind", "status"}),
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yieldchain_block_height",
			Help: "Number of the latest sealed block.",
		}),
		blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yieldchain_block_transactions",
			Help:    "Transactions per sealed block.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		poolPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yieldchain_txpool_pending",
			Help: "Transactions waiting for the next block.",
		}),
		keeperTvl: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yieldchain_keeper_tvl",
			Help: "Last TVL the keeper posted, in 8-decimal value units.",
		}),
		keeperPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yieldchain_keeper_submissions_total",
			Help: "Oracle submissions queued by the keeper.",
		}),
	}

	reg.MustRegister(m.txsTotal, m.blockHeight, m.blockTxs, m.poolPending, m.keeperTvl, m.keeperPosted)

	return m
}

func (m *Metrics) observeTx(r Receipt) {
	if m == nil {
		return
	}

	m.txsTotal.WithLabelValues(r.Kind, string(r.TxStatus)).Inc()
}

func (m *Metrics) observeBlock(b *Block) {
	if m == nil {
		return
	}

	m.blockHeight.Set(float64(b.BlockNum))
	m.blockTxs.Observe(float64(len(b.Transactions)))
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}

	m.poolPending.Set(float64(n))
}

func (m *Metrics) observeSubmission(tvl float64, isTvl bool) {
	if m == nil {
		return
	}

	m.keeperPosted.Inc()

	if isTvl {
		m.keeperTvl.Set(tvl)
	}
}
