package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// RunsTotal counts pipeline runs per entity type
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_runs_total",
			Help: "Total number of KPI pipeline runs",
		},
		[]string{"entity_type", "status"}, // status: success, failed
	)

	// RunDuration measures pipeline run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpt_run_duration_seconds",
			Help:    "KPI pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~7m
		},
		[]string{"entity_type", "status"},
	)

	// RunsInProgress tracks runs currently executing
	RunsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kpt_runs_in_progress",
			Help: "Number of KPI pipeline runs currently executing",
		},
		[]string{"entity_type"},
	)

	// StageDuration measures stage execution time
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpt_stage_duration_seconds",
			Help:    "Pipeline stage execution time",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"stage"},
	)

	// StageErrors counts failed stages
	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_stage_errors_total",
			Help: "Total number of failed pipeline stages",
		},
		[]string{"stage"},
	)

	// PersistedValues counts derived metric values written back
	PersistedValues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_persisted_values_total",
			Help: "Total number of derived metric values persisted",
		},
		[]string{"grain"},
	)

	// AlertsProduced counts alert events published
	AlertsProduced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpt_alerts_produced_total",
			Help: "Total number of alert events published",
		},
	)

	// CacheOperations counts aggregation cache operations
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_cache_operations_total",
			Help: "Total number of aggregation cache operations",
		},
		[]string{"operation", "result"}, // result: hit, miss, ok, error
	)

	// EntitiesLoaded tracks the entity classification of the last incremental load
	EntitiesLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kpt_entities_loaded",
			Help: "Entities read by the last incremental load",
		},
		[]string{"entity_type", "class"}, // class: updated, stale, new
	)

	// CheckpointsWritten counts checkpoint rows upserted
	CheckpointsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_checkpoints_written_total",
			Help: "Total number of checkpoint rows upserted",
		},
		[]string{"store"},
	)

	// ClickHouseQueries counts total number of ClickHouse queries executed
	ClickHouseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_clickhouse_queries_total",
			Help: "Total number of ClickHouse queries executed",
		},
		[]string{"query_type", "status"}, // query_type: select, insert, execute
	)

	// ClickHouseQueryDuration measures ClickHouse query execution time
	ClickHouseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpt_clickhouse_query_duration_seconds",
			Help:    "ClickHouse query execution time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"query_type"},
	)

	// MetadataRequests counts requests to the metadata service
	MetadataRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_metadata_requests_total",
			Help: "Total number of metadata service requests",
		},
		[]string{"endpoint", "status"},
	)

	// TasksEnqueued counts pipeline tasks enqueued
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_tasks_enqueued_total",
			Help: "Total number of pipeline tasks enqueued",
		},
		[]string{"entity_type", "trigger"}, // trigger: schedule, manual
	)

	// TasksTotal counts pipeline tasks processed by workers
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_tasks_total",
			Help: "Total number of pipeline tasks processed",
		},
		[]string{"entity_type", "status"},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpt_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordRunStart records the start of a pipeline run
func RecordRunStart(entityType string) {
	RunsInProgress.WithLabelValues(entityType).Inc()
}

// RecordRunComplete records run completion
func RecordRunComplete(entityType, status string, duration float64) {
	RunsInProgress.WithLabelValues(entityType).Dec()
	RunsTotal.WithLabelValues(entityType, status).Inc()
	RunDuration.WithLabelValues(entityType, status).Observe(duration)
}

// RecordStageDuration records how long a stage took
func RecordStageDuration(stage string, duration float64) {
	StageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordStageError records a failed stage
func RecordStageError(stage string) {
	StageErrors.WithLabelValues(stage).Inc()
}

// RecordPersistedValues records persisted derived values
func RecordPersistedValues(grain string, count int) {
	PersistedValues.WithLabelValues(grain).Add(float64(count))
}

// RecordAlertsProduced records published alerts
func RecordAlertsProduced(count int) {
	AlertsProduced.Add(float64(count))
}

// RecordCacheOperation records an aggregation cache operation
func RecordCacheOperation(operation, result string) {
	CacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordEntitiesLoaded records the entity classification of an incremental load
func RecordEntitiesLoaded(entityType string, updated, stale, fresh int) {
	EntitiesLoaded.WithLabelValues(entityType, "updated").Set(float64(updated))
	EntitiesLoaded.WithLabelValues(entityType, "stale").Set(float64(stale))
	EntitiesLoaded.WithLabelValues(entityType, "new").Set(float64(fresh))
}

// RecordCheckpointsWritten records upserted checkpoint rows
func RecordCheckpointsWritten(store string, count int) {
	CheckpointsWritten.WithLabelValues(store).Add(float64(count))
}

// RecordClickHouseQuery records ClickHouse query metrics
func RecordClickHouseQuery(queryType, status string, duration float64) {
	ClickHouseQueries.WithLabelValues(queryType, status).Inc()
	ClickHouseQueryDuration.WithLabelValues(queryType).Observe(duration)
}

// RecordMetadataRequest records a metadata service request
func RecordMetadataRequest(endpoint, status string) {
	MetadataRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordTaskEnqueued records task enqueue
func RecordTaskEnqueued(entityType, trigger string) {
	TasksEnqueued.WithLabelValues(entityType, trigger).Inc()
}

// RecordTaskComplete records a processed task
func RecordTaskComplete(entityType, status string) {
	TasksTotal.WithLabelValues(entityType, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
