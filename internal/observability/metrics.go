package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the research index service.
// Metrics are organized by subsystem: sync runs, records, entity resolution,
// citations, documents, stats, and external source requests. All counters and
// histograms are registered via promauto for automatic registration with the
// default Prometheus registry.
type Metrics struct {
	// SyncRunsStarted counts the total number of ingestion runs initiated.
	SyncRunsStarted prometheus.Counter

	// SyncRunsCompleted counts ingestion runs by terminal state (completed, failed, stopped).
	SyncRunsCompleted *prometheus.CounterVec

	// SyncRunDuration observes the end-to-end duration of ingestion runs in seconds.
	SyncRunDuration prometheus.Histogram

	// SyncRunsBusy counts start attempts rejected because a run was already in progress.
	SyncRunsBusy prometheus.Counter

	// RecordsProcessed counts records processed per run, labeled by outcome
	// (created, updated, skipped, errored).
	RecordsProcessed *prometheus.CounterVec

	// EntitiesCreated counts catalog entities created by the resolver, labeled by
	// kind (journal, author, issue, account, organization).
	EntitiesCreated *prometheus.CounterVec

	// EntitiesMatched counts catalog entities matched by the resolver, labeled by kind.
	EntitiesMatched *prometheus.CounterVec

	// CitationsChecked counts citation sync outcomes (updated, unchanged, errored, skipped).
	CitationsChecked *prometheus.CounterVec

	// DocumentsDownloaded counts successful document downloads.
	DocumentsDownloaded prometheus.Counter

	// DocumentsFailed counts failed document downloads.
	DocumentsFailed prometheus.Counter

	// DocumentBytes counts total bytes of downloaded documents.
	DocumentBytes prometheus.Counter

	// StatsRecalculations counts stats recalculation passes, labeled by entity kind.
	StatsRecalculations *prometheus.CounterVec

	// StatsRecalcDuration observes the duration of stats recalculation passes in seconds.
	StatsRecalcDuration prometheus.Histogram

	// SourceRequestsTotal counts HTTP requests to external sources, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to external sources, labeled
	// by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to external sources in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceCacheHits counts responses served from the in-memory response cache.
	SourceCacheHits *prometheus.CounterVec

	// SourceRateLimited counts rate-limited responses from external sources.
	SourceRateLimited *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Sync runs
		SyncRunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_started_total",
			Help:      "Total number of ingestion runs started",
		}),
		SyncRunsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_completed_total",
			Help:      "Total number of ingestion runs by terminal state",
		}, []string{"state"}),
		SyncRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		SyncRunsBusy: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_busy_total",
			Help:      "Total number of start attempts rejected while a run was in progress",
		}),

		// Records
		RecordsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Total number of records processed by outcome",
		}, []string{"outcome"}),

		// Entity resolution
		EntitiesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_created_total",
			Help:      "Total number of catalog entities created by kind",
		}, []string{"kind"}),
		EntitiesMatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_matched_total",
			Help:      "Total number of catalog entities matched by kind",
		}, []string{"kind"}),

		// Citations
		CitationsChecked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_checked_total",
			Help:      "Total number of citation sync outcomes",
		}, []string{"outcome"}),

		// Documents
		DocumentsDownloaded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_downloaded_total",
			Help:      "Total number of documents downloaded",
		}),
		DocumentsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_failed_total",
			Help:      "Total number of failed document downloads",
		}),
		DocumentBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_bytes_total",
			Help:      "Total bytes of downloaded documents",
		}),

		// Stats
		StatsRecalculations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_recalculations_total",
			Help:      "Total number of stats recalculations by entity kind",
		}, []string{"kind"}),
		StatsRecalcDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stats_recalc_duration_seconds",
			Help:      "Duration of stats recalculation passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),

		// External sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to external sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to external sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to external sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_cache_hits_total",
			Help:      "Total number of responses served from the response cache",
		}, []string{"source"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from external sources",
		}, []string{"source"}),
	}
}

// RecordSyncStarted records that an ingestion run has started.
func (m *Metrics) RecordSyncStarted() {
	m.SyncRunsStarted.Inc()
}

// RecordSyncFinished records a run's terminal state and duration.
func (m *Metrics) RecordSyncFinished(state string, durationSeconds float64) {
	m.SyncRunsCompleted.WithLabelValues(state).Inc()
	m.SyncRunDuration.Observe(durationSeconds)
}

// RecordSyncBusy records a rejected concurrent start attempt.
func (m *Metrics) RecordSyncBusy() {
	m.SyncRunsBusy.Inc()
}

// RecordRecordProcessed records one record outcome.
func (m *Metrics) RecordRecordProcessed(outcome string) {
	m.RecordsProcessed.WithLabelValues(outcome).Inc()
}

// RecordEntityCreated records a catalog entity created by the resolver.
func (m *Metrics) RecordEntityCreated(kind string) {
	m.EntitiesCreated.WithLabelValues(kind).Inc()
}

// RecordEntityMatched records a catalog entity matched by the resolver.
func (m *Metrics) RecordEntityMatched(kind string) {
	m.EntitiesMatched.WithLabelValues(kind).Inc()
}

// RecordCitationOutcome records one citation sync outcome.
func (m *Metrics) RecordCitationOutcome(outcome string) {
	m.CitationsChecked.WithLabelValues(outcome).Inc()
}

// RecordDocumentDownloaded records a successful document download.
func (m *Metrics) RecordDocumentDownloaded(sizeBytes int64) {
	m.DocumentsDownloaded.Inc()
	m.DocumentBytes.Add(float64(sizeBytes))
}

// RecordDocumentFailed records a failed document download.
func (m *Metrics) RecordDocumentFailed() {
	m.DocumentsFailed.Inc()
}

// RecordStatsRecalculated records stats recalculations for one entity kind.
func (m *Metrics) RecordStatsRecalculated(kind string, count int) {
	m.StatsRecalculations.WithLabelValues(kind).Add(float64(count))
}

// ObserveStatsRecalcDuration records the duration of a recalculation pass.
func (m *Metrics) ObserveStatsRecalcDuration(durationSeconds float64) {
	m.StatsRecalcDuration.Observe(durationSeconds)
}

// RecordSourceRequest records a request to an external source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to an external source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceCacheHit records a response served from the response cache.
func (m *Metrics) RecordSourceCacheHit(source string) {
	m.SourceCacheHits.WithLabelValues(source).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}
