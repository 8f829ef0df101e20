package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/amirshapkota/research-index/internal/domain"
)

// Compile-time interface check.
var _ AuthorRepository = (*PgAuthorRepository)(nil)

// PgAuthorRepository is the PostgreSQL implementation of AuthorRepository.
type PgAuthorRepository struct {
	db DBTX
}

// NewPgAuthorRepository creates a new PostgreSQL author repository.
func NewPgAuthorRepository(db DBTX) *PgAuthorRepository {
	return &PgAuthorRepository{db: db}
}

const authorColumns = `id, name, researcher_id, account_id, created_at, updated_at`

// Create persists a new author together with a zeroed stats row.
func (r *PgAuthorRepository) Create(ctx context.Context, author *domain.Author) error {
	if author == nil {
		return domain.NewValidationError("author", "cannot be nil")
	}
	if strings.TrimSpace(author.Name) == "" {
		return domain.NewValidationError("name", "cannot be empty")
	}
	if author.AccountID == uuid.Nil {
		return domain.NewValidationError("account_id", "cannot be empty")
	}

	query := `
		INSERT INTO authors (name, researcher_id, account_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		author.Name,
		author.ResearcherID,
		author.AccountID,
	).Scan(&author.ID, &author.CreatedAt, &author.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.NewValidationError("account_id", "account does not exist")
		}
		return fmt.Errorf("failed to create author: %w", err)
	}

	statsQuery := `
		INSERT INTO author_stats (author_id)
		VALUES ($1)
		ON CONFLICT (author_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, statsQuery, author.ID); err != nil {
		return fmt.Errorf("failed to create author stats: %w", err)
	}
	return nil
}

// GetByID returns the author with the given ID.
func (r *PgAuthorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Author, error) {
	if id == uuid.Nil {
		return nil, domain.NewValidationError("id", "cannot be empty")
	}

	query := `SELECT ` + authorColumns + ` FROM authors WHERE id = $1`

	author, err := scanAuthor(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("author", id.String())
		}
		return nil, fmt.Errorf("failed to get author: %w", err)
	}
	return author, nil
}

// FindByName returns the author whose name matches case-insensitively.
// When multiple authors share a name the oldest row wins, keeping repeated
// imports attached to one author.
func (r *PgAuthorRepository) FindByName(ctx context.Context, name string) (*domain.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewValidationError("name", "cannot be empty")
	}

	query := `
		SELECT ` + authorColumns + `
		FROM authors
		WHERE LOWER(name) = LOWER($1)
		ORDER BY created_at
		LIMIT 1`

	author, err := scanAuthor(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("author", name)
		}
		return nil, fmt.Errorf("failed to find author by name: %w", err)
	}
	return author, nil
}

// AllIDs returns every author ID in the catalog.
func (r *PgAuthorRepository) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM authors ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list author ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan author id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate author ids: %w", err)
	}
	return ids, nil
}

// GetStats returns the derived stats row for an author.
func (r *PgAuthorRepository) GetStats(ctx context.Context, authorID uuid.UUID) (*domain.AuthorStats, error) {
	if authorID == uuid.Nil {
		return nil, domain.NewValidationError("author_id", "cannot be empty")
	}

	query := `
		SELECT author_id, h_index, i10_index, total_citations, total_publications,
		       total_reads, total_downloads, total_recommendations, average_citations, updated_at
		FROM author_stats
		WHERE author_id = $1`

	var s domain.AuthorStats
	err := r.db.QueryRow(ctx, query, authorID).Scan(
		&s.AuthorID,
		&s.HIndex,
		&s.I10Index,
		&s.TotalCitations,
		&s.TotalPublications,
		&s.TotalReads,
		&s.TotalDownloads,
		&s.TotalRecommendations,
		&s.AverageCitations,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("author stats", authorID.String())
		}
		return nil, fmt.Errorf("failed to get author stats: %w", err)
	}
	return &s, nil
}

// UpdateStats replaces the derived stats row for an author.
func (r *PgAuthorRepository) UpdateStats(ctx context.Context, stats *domain.AuthorStats) error {
	if stats == nil {
		return domain.NewValidationError("stats", "cannot be nil")
	}
	if stats.AuthorID == uuid.Nil {
		return domain.NewValidationError("author_id", "cannot be empty")
	}

	query := `
		INSERT INTO author_stats (author_id, h_index, i10_index, total_citations,
		                          total_publications, total_reads, total_downloads,
		                          total_recommendations, average_citations, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (author_id) DO UPDATE SET
			h_index = EXCLUDED.h_index,
			i10_index = EXCLUDED.i10_index,
			total_citations = EXCLUDED.total_citations,
			total_publications = EXCLUDED.total_publications,
			total_reads = EXCLUDED.total_reads,
			total_downloads = EXCLUDED.total_downloads,
			total_recommendations = EXCLUDED.total_recommendations,
			average_citations = EXCLUDED.average_citations,
			updated_at = NOW()
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		stats.AuthorID,
		stats.HIndex,
		stats.I10Index,
		stats.TotalCitations,
		stats.TotalPublications,
		stats.TotalReads,
		stats.TotalDownloads,
		stats.TotalRecommendations,
		stats.AverageCitations,
	).Scan(&stats.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.NewNotFoundError("author", stats.AuthorID.String())
		}
		return fmt.Errorf("failed to update author stats: %w", err)
	}
	return nil
}

// Count returns the number of authors in the catalog.
func (r *PgAuthorRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM authors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count authors: %w", err)
	}
	return count, nil
}

func scanAuthor(row pgx.Row) (*domain.Author, error) {
	var a domain.Author
	err := row.Scan(&a.ID, &a.Name, &a.ResearcherID, &a.AccountID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
