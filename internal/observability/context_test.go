package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-123")

		result := RequestIDFromContext(ctx)
		assert.Equal(t, "req-123", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := RequestIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestSyncRunIDContext(t *testing.T) {
	t.Run("stores and retrieves sync run ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithSyncRunID(ctx, "run-456")

		result := SyncRunIDFromContext(ctx)
		assert.Equal(t, "run-456", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := SyncRunIDFromContext(ctx)
		assert.Equal(t, "", result)
	})

	t.Run("independent of request ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-1")
		ctx = WithSyncRunID(ctx, "run-1")

		assert.Equal(t, "req-1", RequestIDFromContext(ctx))
		assert.Equal(t, "run-1", SyncRunIDFromContext(ctx))
	})
}
