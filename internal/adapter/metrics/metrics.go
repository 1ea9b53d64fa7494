package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the ingestion pipeline.
type PipelineMetrics struct {
	EventsTotal       *prometheus.CounterVec
	AdmissionTotal    *prometheus.CounterVec
	AlertsCommitted   prometheus.Counter
	ValidationFailed  *prometheus.CounterVec
	BatchFlushLatency prometheus.Histogram
	BatchBufferSize   prometheus.Gauge
	BatchEvictions    *prometheus.CounterVec
	BreakerState      prometheus.Gauge
	GeocodeTotal      *prometheus.CounterVec
	GeocodeTier       *prometheus.CounterVec
	EmbeddingCalls    *prometheus.CounterVec
	QuotaTokensUsed   prometheus.Gauge
}

// NewPipelineMetrics initializes and registers the Prometheus metrics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Total number of raw events fetched, by source and status.",
		}, []string{"source", "status"}), // status: fetched, malformed, failed
		AdmissionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "feed",
			Name:      "admission_total",
			Help:      "Global-events rows accepted vs rejected by the admission filter.",
		}, []string{"outcome"}), // outcome: accepted, rejected
		AlertsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "enrich",
			Name:      "alerts_committed_total",
			Help:      "Total number of alerts upserted to the store.",
		}),
		ValidationFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "enrich",
			Name:      "validation_failed_total",
			Help:      "Alerts excluded from commit by validation, by violated field.",
		}, []string{"field"}),
		BatchFlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "threat_ingestor",
			Subsystem: "location",
			Name:      "batch_flush_seconds",
			Help:      "Latency of inference batch flushes.",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchBufferSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "threat_ingestor",
			Subsystem: "location",
			Name:      "batch_buffer_size",
			Help:      "Current number of items queued for inference.",
		}),
		BatchEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "location",
			Name:      "batch_evictions_total",
			Help:      "Items evicted from the batch buffer, by reason.",
		}, []string{"reason"}), // reason: overflow, stale, abandoned
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "threat_ingestor",
			Subsystem: "inference",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		GeocodeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "geocode",
			Name:      "resolutions_total",
			Help:      "Geocode resolutions by method.",
		}, []string{"method"}),
		GeocodeTier: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "geocode",
			Name:      "tier_total",
			Help:      "Geocode results by confidence tier.",
		}, []string{"tier"}),
		EmbeddingCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threat_ingestor",
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Embedding computations by path (remote, fallback).",
		}, []string{"path"}),
		QuotaTokensUsed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "threat_ingestor",
			Subsystem: "embedding",
			Name:      "quota_tokens_used",
			Help:      "Tokens consumed against the daily embedding quota.",
		}),
	}
}
