package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/amirshapkota/research-index/internal/domain"
)

// JournalRepository manages journals and their derived statistics.
type JournalRepository interface {
	// Create persists a new journal and its zeroed stats row.
	// Returns domain.ErrAlreadyExists when a journal with the same ISSN exists.
	Create(ctx context.Context, journal *domain.Journal) error

	// GetByID returns the journal with the given ID, or domain.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Journal, error)

	// FindByISSN returns the journal whose ISSN or eISSN matches the given
	// identifier, or domain.ErrNotFound. Matching ignores case and hyphens
	// are compared verbatim.
	FindByISSN(ctx context.Context, issn string) (*domain.Journal, error)

	// FindByTitle returns the journal whose title matches case-insensitively,
	// or domain.ErrNotFound.
	FindByTitle(ctx context.Context, title string) (*domain.Journal, error)

	// AllIDs returns the IDs of every journal in the catalog.
	AllIDs(ctx context.Context) ([]uuid.UUID, error)

	// GetStats returns the derived stats row for the journal, or
	// domain.ErrNotFound.
	GetStats(ctx context.Context, journalID uuid.UUID) (*domain.JournalStats, error)

	// UpdateStats replaces the derived stats row for the journal.
	UpdateStats(ctx context.Context, stats *domain.JournalStats) error

	// Count returns the number of journals in the catalog.
	Count(ctx context.Context) (int64, error)
}
