package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the transaction pipeline.
type PipelineMetrics struct {
	PublishedTotal   *prometheus.CounterVec
	ProcessedTotal   *prometheus.CounterVec
	FraudFlagged     prometheus.Counter
	SinkWriteSeconds prometheus.Histogram
	PendingEntries   prometheus.Gauge
	StreamLength     prometheus.Gauge
}

// NewPipelineMetrics initializes and registers the Prometheus metrics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		PublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txstream",
			Subsystem: "publish",
			Name:      "transactions_total",
			Help:      "Total number of transactions published to the stream by status.",
		}, []string{"status"}), // status: ok, error
		ProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txstream",
			Subsystem: "process",
			Name:      "transactions_total",
			Help:      "Total number of transactions processed by the scoring consumer by status.",
		}, []string{"status"}), // status: sunk, error_sink, error_ack
		FraudFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "txstream",
			Subsystem: "process",
			Name:      "fraud_flagged_total",
			Help:      "Total number of transactions flagged as likely fraud by the scorer.",
		}),
		SinkWriteSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txstream",
			Subsystem: "process",
			Name:      "sink_write_seconds",
			Help:      "Latency of sink batch writes.",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "txstream",
			Subsystem: "stream",
			Name:      "pending_entries_gauge",
			Help:      "Delivered-but-unacknowledged entries in the processing group.",
		}),
		StreamLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "txstream",
			Subsystem: "stream",
			Name:      "length_gauge",
			Help:      "Total number of entries in the transaction stream.",
		}),
	}
}
