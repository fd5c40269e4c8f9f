package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts replayed change-log operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_operations_total",
			Help: "Total number of replayed change-log operations",
		},
		[]string{"kind", "status"},
	)
	// ApplyDuration is the latency of applying one operation.
	ApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replicator_apply_duration_seconds",
			Help:    "Operation apply latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	// Watermark is the seconds part of the last recorded timestamp.
	Watermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replicator_watermark_seconds",
			Help: "Seconds component of the last applied change-log timestamp",
		},
	)
	// SkippedTotal counts invalid records dropped under the skip policy.
	SkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replicator_skipped_invalid_total",
			Help: "Total number of invalid records skipped",
		},
	)
	// ImportedDocuments counts documents copied by the initial import.
	ImportedDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_imported_documents_total",
			Help: "Total number of documents copied by import",
		},
		[]string{"namespace"},
	)
	// RequestTotal counts HTTP requests on the status server.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replicator_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
