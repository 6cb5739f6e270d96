package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ReconcileBuckets for a single read-then-write against the document store
	ReconcileBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// SyncBuckets for full resynchronization passes
	SyncBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300}
)

// Reconciler metrics
var (
	// ReconcileTotal counts reconciliations by action (noop, insert, update, delete)
	ReconcileTotal CounterVec = noopCounterVec{}

	// ReconcileErrorsTotal counts failed reconciliations by kind (lookup, conflict, write, malformed)
	ReconcileErrorsTotal CounterVec = noopCounterVec{}

	// ReconcileDurationSeconds measures a single reconciliation
	ReconcileDurationSeconds Histogram = NoopStat{}

	// NotificationsTotal counts classified notifications by operation
	NotificationsTotal CounterVec = noopCounterVec{}

	// NotificationsDroppedTotal counts notifications dropped by a full subscriber buffer
	NotificationsDroppedTotal Counter = NoopStat{}
)

// Bulk sync metrics
var (
	// SyncRunsTotal counts full sync passes by result (success, partial)
	SyncRunsTotal CounterVec = noopCounterVec{}

	// SyncDurationSeconds measures full sync passes
	SyncDurationSeconds Histogram = NoopStat{}

	// SyncPrunedTotal counts documents deleted because no record produced them
	SyncPrunedTotal Counter = NoopStat{}
)

// Inbound replication metrics
var (
	// InboundChangesTotal counts applied remote changes by action (upsert, remove, skipped)
	InboundChangesTotal CounterVec = noopCounterVec{}

	// InboundErrorsTotal counts remote changes that failed to apply
	InboundErrorsTotal Counter = NoopStat{}
)

// Publisher metrics
var (
	// PublishEventsTotal counts document events published by sink
	PublishEventsTotal CounterVec = noopCounterVec{}

	// PublishRetriesTotal counts publish retries by sink
	PublishRetriesTotal CounterVec = noopCounterVec{}
)

// Store size gauges, refreshed by MetricsCollector
var (
	RecordCount   Gauge = NoopStat{}
	DocumentCount Gauge = NoopStat{}
)

// InitMetrics registers every metric with the active registry.
func InitMetrics() {
	ReconcileTotal = NewCounterVec(
		"reconcile_total",
		"Reconciliations by resulting action",
		[]string{"action"},
	)
	ReconcileErrorsTotal = NewCounterVec(
		"reconcile_errors_total",
		"Failed reconciliations by error kind",
		[]string{"kind"},
	)
	ReconcileDurationSeconds = NewHistogramWithBuckets(
		"reconcile_duration_seconds",
		"Duration of a single reconciliation",
		ReconcileBuckets,
	)
	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Record store notifications by operation",
		[]string{"op"},
	)
	NotificationsDroppedTotal = NewCounter(
		"notifications_dropped_total",
		"Notifications dropped because a subscriber buffer was full",
	)

	SyncRunsTotal = NewCounterVec(
		"sync_runs_total",
		"Full sync passes by result",
		[]string{"result"},
	)
	SyncDurationSeconds = NewHistogramWithBuckets(
		"sync_duration_seconds",
		"Duration of full sync passes",
		SyncBuckets,
	)
	SyncPrunedTotal = NewCounter(
		"sync_pruned_total",
		"Documents deleted by prune-by-absence",
	)

	InboundChangesTotal = NewCounterVec(
		"inbound_changes_total",
		"Remote document changes applied to the record store",
		[]string{"action"},
	)
	InboundErrorsTotal = NewCounter(
		"inbound_errors_total",
		"Remote document changes that failed to apply",
	)

	PublishEventsTotal = NewCounterVec(
		"publish_events_total",
		"Document events published per sink",
		[]string{"sink"},
	)
	PublishRetriesTotal = NewCounterVec(
		"publish_retries_total",
		"Publish retries per sink",
		[]string{"sink"},
	)

	RecordCount = NewGauge("records", "Records in the record store")
	DocumentCount = NewGauge("documents", "Documents in the document store")
}
