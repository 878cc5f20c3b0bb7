package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_ingest_total",
			Help: "Total number of image ingestion attempts by result",
		},
		[]string{"result"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_ingest_duration_seconds",
			Help:    "Duration of a single image ingestion",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	IngestBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_ingest_bytes_total",
			Help: "Total bytes written to storage by ingestion",
		},
	)
)

// Batch metrics
var (
	BatchStepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_batch_steps_total",
			Help: "Total number of batch steps executed",
		},
	)

	BatchJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_batch_jobs_total",
			Help: "Total number of batch jobs by final status",
		},
		[]string{"status"},
	)

	BatchFilesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_batch_files_failed_total",
			Help: "Total number of files skipped because of per-file failures",
		},
	)
)

// Counter maintenance metrics
var (
	CounterWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_counter_writes_total",
			Help: "Total number of denormalised counter writes",
		},
		[]string{"subject", "status"},
	)

	CounterSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_counter_sweep_duration_seconds",
			Help:    "Duration of a full counter sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Cache metrics
var (
	CacheTagsInvalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_cache_tags_invalidated_total",
			Help: "Total number of cache tags invalidated by event kind",
		},
		[]string{"event"},
	)

	CacheDeliveryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_cache_delivery_errors_total",
			Help: "Total number of failed tag deliveries to the cache sink",
		},
	)
)

// Maintenance metrics
var (
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_maintenance_runs_total",
			Help: "Total number of maintenance task runs by task and status",
		},
		[]string{"task", "status"},
	)
)
