package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/amirshapkota/research-index/internal/domain"
)

// AuthorRepository manages authors and their derived statistics.
type AuthorRepository interface {
	// Create persists a new author and a zeroed stats row.
	Create(ctx context.Context, author *domain.Author) error

	// GetByID returns the author with the given ID, or domain.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Author, error)

	// FindByName returns the author whose name matches case-insensitively,
	// or domain.ErrNotFound.
	FindByName(ctx context.Context, name string) (*domain.Author, error)

	// AllIDs returns the IDs of every author in the catalog.
	AllIDs(ctx context.Context) ([]uuid.UUID, error)

	// GetStats returns the derived stats row for the author, or
	// domain.ErrNotFound.
	GetStats(ctx context.Context, authorID uuid.UUID) (*domain.AuthorStats, error)

	// UpdateStats replaces the derived stats row for the author.
	UpdateStats(ctx context.Context, stats *domain.AuthorStats) error

	// Count returns the number of authors in the catalog.
	Count(ctx context.Context) (int64, error)
}
