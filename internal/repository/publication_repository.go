package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/amirshapkota/research-index/internal/domain"
)

// CitationSyncFilter selects publications due for citation refresh.
type CitationSyncFilter struct {
	// JournalID restricts the selection to one journal when set.
	JournalID *uuid.UUID

	// SyncedBefore selects publications whose citations were last synced
	// before this instant, or never. Ignored when Force is true.
	SyncedBefore time.Time

	// Force selects every publication with a DOI regardless of when it
	// was last synced.
	Force bool

	// Limit caps the number of publications returned. Zero applies the
	// default limit.
	Limit int

	// Offset skips the given number of publications.
	Offset int
}

// CatalogTotals summarizes publication counts for stats runs and the sync
// history endpoint.
type CatalogTotals struct {
	Publications int64 `json:"publications"`
	Published    int64 `json:"published"`
	WithDOI      int64 `json:"with_doi"`
	WithDocument int64 `json:"with_document"`
}

// PublicationRepository manages catalog records and their citation sync state.
type PublicationRepository interface {
	// Create persists a new publication. Returns domain.ErrAlreadyExists
	// when a publication with the same DOI exists.
	Create(ctx context.Context, pub *domain.Publication) error

	// Update replaces the mutable fields of an existing publication.
	Update(ctx context.Context, pub *domain.Publication) error

	// GetByID returns the publication with the given ID, or domain.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Publication, error)

	// FindByDOI returns the publication whose DOI matches case-insensitively,
	// or domain.ErrNotFound.
	FindByDOI(ctx context.Context, doi string) (*domain.Publication, error)

	// SetDocumentPath records the stored document location for a publication.
	SetDocumentPath(ctx context.Context, id uuid.UUID, path string) error

	// ListForCitationSync returns publications with a DOI that match the filter.
	ListForCitationSync(ctx context.Context, filter CitationSyncFilter) ([]*domain.Publication, error)

	// CountInCitationCooldown returns how many DOI-bearing publications
	// are inside the citation cooldown window, restricted to one journal
	// when journalID is set.
	CountInCitationCooldown(ctx context.Context, journalID *uuid.UUID, syncedSince time.Time) (int64, error)

	// UpdateCitationCount records a fresh citation count and sync timestamp.
	UpdateCitationCount(ctx context.Context, id uuid.UUID, count int, syncedAt time.Time) error

	// ListPublishedByAuthor returns the published publications of an author.
	ListPublishedByAuthor(ctx context.Context, authorID uuid.UUID) ([]*domain.Publication, error)

	// ListPublishedByJournal returns the published publications of a journal.
	ListPublishedByJournal(ctx context.Context, journalID uuid.UUID) ([]*domain.Publication, error)

	// Totals returns catalog-wide publication counts.
	Totals(ctx context.Context) (CatalogTotals, error)
}
