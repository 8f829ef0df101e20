package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	syncRunIDKey contextKey = "sync_run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSyncRunID adds the current sync run ID to the context.
func WithSyncRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, syncRunIDKey, runID)
}

// SyncRunIDFromContext retrieves the sync run ID from context.
// Returns empty string if not present.
func SyncRunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(syncRunIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
