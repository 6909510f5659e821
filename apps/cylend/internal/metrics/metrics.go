package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the indexer and the processor.
type Metrics struct {
	// ingestion
	IngestedEvents *prometheus.CounterVec
	ReadFallbacks  *prometheus.CounterVec

	// settlement
	Cycles      *prometheus.CounterVec
	Submissions *prometheus.CounterVec
	Attempts    prometheus.Histogram
	InFlight    prometheus.Gauge

	// crawling and publishing
	CrawlerLastBlock *prometheus.GaugeVec
	OutboxPublished  *prometheus.CounterVec
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cylend_ingestion_events_total",
			Help: "Chain events handled by the ingestion engine",
		}, []string{"chain", "kind", "result"}),
		ReadFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cylend_ingestion_read_fallbacks_total",
			Help: "Authoritative chain reads that failed and triggered a fallback",
		}, []string{"op"}),
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cylend_settlement_cycles_total",
			Help: "Settlement poll cycles by outcome",
		}, []string{"result"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cylend_settlement_submissions_total",
			Help: "Completion submissions by outcome",
		}, []string{"result"}),
		Attempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cylend_settlement_attempts",
			Help:    "Attempts used per completion submission",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cylend_settlement_in_flight",
			Help: "Actions currently being submitted",
		}),
		CrawlerLastBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cylend_crawler_last_block",
			Help: "Last block scanned per chain",
		}, []string{"chain"}),
		OutboxPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cylend_outbox_published_total",
			Help: "Outbox events published to Kafka",
		}, []string{"result"}),
	}
}

// NewNop returns collectors registered on a throwaway registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
