package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics holds all Prometheus metrics for the cache builder.
type PromMetrics struct {
	// Contract processing counters
	ContractsTotal *prometheus.CounterVec

	// Cache activity, mirrored from the cache's own counters
	CacheOps *prometheus.GaugeVec

	// Gauges
	QueueDepth        prometheus.Gauge
	AbandonedAnalyses prometheus.Gauge

	// Histograms
	ProcessingLatency prometheus.Histogram
}

// NewPromMetrics creates and registers all Prometheus metrics.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PromMetrics{
		ContractsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abicached_contracts_total",
				Help: "Processed contracts by outcome",
			},
			[]string{"outcome"},
		),

		CacheOps: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "abicached_cache_operations",
				Help: "Cache operations by kind (hit, miss, write, error)",
			},
			[]string{"op"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "abicached_queue_depth",
				Help: "Items currently buffered between ingestion and workers",
			},
		),

		AbandonedAnalyses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "abicached_abandoned_analyses",
				Help: "Storage extractions abandoned after ignoring cancellation",
			},
		),

		ProcessingLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "abicached_processing_latency_seconds",
				Help:    "Per-contract processing latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 30, 60},
			},
		),
	}
}
