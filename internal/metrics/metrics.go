package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_http_requests_total",
			Help: "HTTP requests by route and status class",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analyst_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)

	// outcome: done, duplicate, no_stops, parse_error, rejected, panic
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_bundle_ingestions_total",
			Help: "Bundle ingestions by outcome",
		},
		[]string{"outcome"},
	)

	IngestionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analyst_ingestion_queue_depth",
			Help: "Ingestion tasks waiting for a worker",
		},
	)

	// result: hit, miss, shared, error
	MaterializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_materializations_total",
			Help: "Result cache lookups by artifact kind and result",
		},
		[]string{"kind", "result"},
	)

	ComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_reducer_duration_seconds",
			Help:    "Time spent in statistical reducers",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"kind"},
	)

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_artifact_upload_duration_seconds",
			Help:    "Time from encode start to durable upload",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"format"},
	)

	// op: enqueue, cancel, complete; status: success, failure
	BrokerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_broker_operations_total",
			Help: "Job broker operations",
		},
		[]string{"op", "status"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_storage_operations_total",
			Help: "Blob storage operations",
		},
		[]string{"op", "status"},
	)
)

// Status maps an error to the success/failure label used by operation counters.
func Status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
