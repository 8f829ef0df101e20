package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/sources/publications"
)

// PathRecorder persists the stored document location of a publication.
type PathRecorder interface {
	SetDocumentPath(ctx context.Context, id uuid.UUID, path string) error
}

// FetcherConfig configures the document fetcher.
type FetcherConfig struct {
	// Dir is the directory document files are stored under.
	Dir string
}

// Fetcher downloads the first usable artifact of a record and stores it on
// disk, recording the path on the publication row.
type Fetcher struct {
	downloader *Downloader
	recorder   PathRecorder
	dir        string
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewFetcher creates a document fetcher. Metrics may be nil.
func NewFetcher(downloader *Downloader, recorder PathRecorder, cfg FetcherConfig, logger zerolog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		downloader: downloader,
		recorder:   recorder,
		dir:        cfg.Dir,
		logger:     logger.With().Str("component", "documents").Logger(),
		metrics:    metrics,
	}
}

// Attach downloads the best artifact among refs for the given publication
// and records its storage path. PDF references are preferred; the first
// reference that downloads successfully wins. Returns the stored path, or
// an error when every reference fails. Errors here are reported, never
// escalated: the caller's record stays committed regardless.
func (f *Fetcher) Attach(ctx context.Context, publicationID uuid.UUID, refs []publications.DocumentRef) (string, error) {
	if publicationID == uuid.Nil {
		return "", domain.NewValidationError("publication_id", "cannot be empty")
	}
	if len(refs) == 0 {
		return "", domain.NewValidationError("refs", "no document references")
	}

	var lastErr error
	for _, ref := range orderRefs(refs) {
		result, err := f.downloader.Download(ctx, ref.URL, ref.Kind == "pdf")
		if err != nil {
			f.logger.Warn().Err(err).Str("url", ref.URL).Msg("document download failed")
			lastErr = err
			continue
		}

		path, err := f.store(publicationID, ref, result)
		if err != nil {
			lastErr = err
			continue
		}

		if err := f.recorder.SetDocumentPath(ctx, publicationID, path); err != nil {
			lastErr = fmt.Errorf("recording document path: %w", err)
			continue
		}

		if f.metrics != nil {
			f.metrics.RecordDocumentDownloaded(result.SizeBytes)
		}
		f.logger.Debug().
			Str("publication_id", publicationID.String()).
			Str("path", path).
			Int64("bytes", result.SizeBytes).
			Msg("document attached")
		return path, nil
	}

	if f.metrics != nil {
		f.metrics.RecordDocumentFailed()
	}
	return "", lastErr
}

// store writes the artifact atomically: a temp file in the target directory
// renamed into place, named by publication ID.
func (f *Fetcher) store(publicationID uuid.UUID, ref publications.DocumentRef, result *DownloadResult) (string, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating document dir: %w", err)
	}

	name := publicationID.String() + extensionFor(ref, result)
	path := filepath.Join(f.dir, name)

	tmp, err := os.CreateTemp(f.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(result.Content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("writing document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("closing document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("placing document: %w", err)
	}
	return path, nil
}

// orderRefs returns refs with PDF kinds first, preserving relative order.
func orderRefs(refs []publications.DocumentRef) []publications.DocumentRef {
	ordered := make([]publications.DocumentRef, 0, len(refs))
	for _, r := range refs {
		if r.Kind == "pdf" {
			ordered = append(ordered, r)
		}
	}
	for _, r := range refs {
		if r.Kind != "pdf" {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

func extensionFor(ref publications.DocumentRef, result *DownloadResult) string {
	switch {
	case ref.Kind == "pdf" || strings.Contains(strings.ToLower(result.ContentType), "application/pdf"):
		return ".pdf"
	case strings.Contains(strings.ToLower(result.ContentType), "text/html"):
		return ".html"
	default:
		return ".bin"
	}
}
