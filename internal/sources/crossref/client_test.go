package crossref

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirshapkota/research-index/internal/domain"
)

const workFixture = `{
	"status": "ok",
	"message": {
		"DOI": "10.1234/example.2023",
		"title": ["An Example Work"],
		"is-referenced-by-count": 57,
		"reference-count": 31,
		"publisher": "Example Press",
		"type": "journal-article"
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL, MailTo: "ops@example.org", RateLimit: 1000}, nil)
}

func TestClient_CitationCount(t *testing.T) {
	t.Run("returns referenced-by count", func(t *testing.T) {
		var gotPath, gotUA, gotQuery string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.EscapedPath()
			gotUA = r.Header.Get("User-Agent")
			gotQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(workFixture))
		})

		count, err := client.CitationCount(context.Background(), "10.1234/example.2023")
		require.NoError(t, err)
		assert.Equal(t, 57, count)

		assert.Equal(t, "/works/10.1234%2Fexample.2023", gotPath)
		assert.Contains(t, gotUA, "mailto:ops@example.org")
		assert.Contains(t, gotQuery, "mailto=ops%40example.org")
	})

	t.Run("normalizes registry url form before lookup", func(t *testing.T) {
		var gotPath string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.EscapedPath()
			_, _ = w.Write([]byte(workFixture))
		})

		_, err := client.CitationCount(context.Background(), "https://doi.org/10.1234/EXAMPLE.2023")
		require.NoError(t, err)
		assert.Equal(t, "/works/10.1234%2Fexample.2023", gotPath)
	})

	t.Run("maps 404 to not found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := client.CitationCount(context.Background(), "10.9999/unknown")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("rejects empty doi", func(t *testing.T) {
		client := New(Config{}, nil)
		_, err := client.CitationCount(context.Background(), "   ")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects non-ok registry status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": "error", "message": {}}`))
		})

		_, err := client.CitationCount(context.Background(), "10.1234/x")
		var apiErr *domain.ExternalAPIError
		assert.True(t, errors.As(err, &apiErr))
	})

	t.Run("propagates rate limit errors", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := client.CitationCount(context.Background(), "10.1234/x")
		assert.True(t, errors.Is(err, domain.ErrRateLimited))
	})
}

func TestClient_GetWork(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(workFixture))
	})

	work, err := client.GetWork(context.Background(), "10.1234/example.2023")
	require.NoError(t, err)
	assert.Equal(t, "10.1234/example.2023", work.DOI)
	assert.Equal(t, []string{"An Example Work"}, work.Title)
	assert.Equal(t, "journal-article", work.Type)
}
