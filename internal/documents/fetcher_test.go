package documents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/sources/publications"
)

type fakeRecorder struct {
	paths map[uuid.UUID]string
	err   error
}

func (f *fakeRecorder) SetDocumentPath(_ context.Context, id uuid.UUID, path string) error {
	if f.err != nil {
		return f.err
	}
	if f.paths == nil {
		f.paths = map[uuid.UUID]string{}
	}
	f.paths[id] = path
	return nil
}

func newTestFetcher(t *testing.T, recorder *fakeRecorder) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	downloader := NewDownloader(DownloaderConfig{AllowPrivateNetworks: true})
	fetcher := NewFetcher(downloader, recorder, FetcherConfig{Dir: dir}, zerolog.Nop(), nil)
	return fetcher, dir
}

func TestFetcher_Attach(t *testing.T) {
	ctx := context.Background()

	t.Run("stores pdf and records path", func(t *testing.T) {
		payload := []byte("%PDF-1.7 content")
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(payload)
		}))
		defer server.Close()

		recorder := &fakeRecorder{}
		fetcher, dir := newTestFetcher(t, recorder)
		pubID := uuid.New()

		path, err := fetcher.Attach(ctx, pubID, []publications.DocumentRef{{URL: server.URL, Kind: "pdf"}})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, pubID.String()+".pdf"), path)
		assert.Equal(t, path, recorder.paths[pubID])

		stored, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, payload, stored)
	})

	t.Run("falls back to next reference on failure", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer bad.Close()
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.7"))
		}))
		defer good.Close()

		recorder := &fakeRecorder{}
		fetcher, _ := newTestFetcher(t, recorder)
		pubID := uuid.New()

		path, err := fetcher.Attach(ctx, pubID, []publications.DocumentRef{
			{URL: bad.URL, Kind: "pdf"},
			{URL: good.URL, Kind: "pdf"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, path)
	})

	t.Run("prefers pdf references over others", func(t *testing.T) {
		var firstHit string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if firstHit == "" {
				firstHit = r.URL.Path
			}
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.7"))
		}))
		defer server.Close()

		fetcher, _ := newTestFetcher(t, &fakeRecorder{})

		_, err := fetcher.Attach(ctx, uuid.New(), []publications.DocumentRef{
			{URL: server.URL + "/landing", Kind: "html"},
			{URL: server.URL + "/paper.pdf", Kind: "pdf"},
		})
		require.NoError(t, err)
		assert.Equal(t, "/paper.pdf", firstHit)
	})

	t.Run("returns last error when all references fail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		fetcher, _ := newTestFetcher(t, &fakeRecorder{})

		_, err := fetcher.Attach(ctx, uuid.New(), []publications.DocumentRef{{URL: server.URL, Kind: "pdf"}})
		assert.True(t, errors.Is(err, ErrDownloadFailed))
	})

	t.Run("rejects empty reference list", func(t *testing.T) {
		fetcher, _ := newTestFetcher(t, &fakeRecorder{})
		_, err := fetcher.Attach(ctx, uuid.New(), nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestDownloader_Download(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-pdf content type when pdf required", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		}))
		defer server.Close()

		d := NewDownloader(DownloaderConfig{AllowPrivateNetworks: true})
		_, err := d.Download(ctx, server.URL, true)
		assert.True(t, errors.Is(err, ErrNotPDF))
	})

	t.Run("accepts any content type when pdf not required", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		}))
		defer server.Close()

		d := NewDownloader(DownloaderConfig{AllowPrivateNetworks: true})
		result, err := d.Download(ctx, server.URL, false)
		require.NoError(t, err)
		assert.Equal(t, int64(13), result.SizeBytes)
		assert.Len(t, result.ContentHash, 64)
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(make([]byte, 2048))
		}))
		defer server.Close()

		d := NewDownloader(DownloaderConfig{MaxSize: 1024, AllowPrivateNetworks: true})
		_, err := d.Download(ctx, server.URL, true)
		assert.True(t, errors.Is(err, ErrTooLarge))
	})

	t.Run("denies private addresses by default", func(t *testing.T) {
		d := NewDownloader(DownloaderConfig{})
		_, err := d.Download(ctx, "http://127.0.0.1:9/doc.pdf", true)
		assert.True(t, errors.Is(err, ErrSSRF))
	})

	t.Run("denies non-http schemes", func(t *testing.T) {
		d := NewDownloader(DownloaderConfig{})
		_, err := d.Download(ctx, "file:///etc/passwd", true)
		assert.True(t, errors.Is(err, ErrSSRF))
	})
}
