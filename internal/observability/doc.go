// Package observability provides logging and metrics support for the
// research index service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for sync runs, records, citations, and sources
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("run_id", runID).Msg("sync started")
//
// Add sync run context to a logger:
//
//	logger = observability.WithSyncContext(logger, runID, phase)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("research_index")
//
// Record metrics:
//
//	metrics.RecordSyncStarted()
//	metrics.RecordRecordProcessed("created")
//	metrics.RecordCitationOutcome("updated")
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithSyncRunID(ctx, runID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	runID := observability.SyncRunIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - run_id: Sync run identifier
//   - phase: Current run phase (fetching, resolving, citations, stats)
//   - source: External source (publications, crossref)
//   - publication_id: Catalog record identifier
//   - doi: External identifier of a record
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
