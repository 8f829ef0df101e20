package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/amirshapkota/research-index/internal/domain"
)

// Compile-time interface check.
var _ PublicationRepository = (*PgPublicationRepository)(nil)

// PgPublicationRepository is the PostgreSQL implementation of PublicationRepository.
type PgPublicationRepository struct {
	db DBTX
}

// NewPgPublicationRepository creates a new PostgreSQL publication repository.
func NewPgPublicationRepository(db DBTX) *PgPublicationRepository {
	return &PgPublicationRepository{db: db}
}

const publicationColumns = `id, title, abstract, doi, author_id, co_authors, keywords,
	journal_id, issue_id, pages, published_year, status, language,
	citation_count, read_count, download_count, document_path,
	citations_synced_at, created_at, updated_at`

func validatePublication(pub *domain.Publication) error {
	if pub == nil {
		return domain.NewValidationError("publication", "cannot be nil")
	}
	if strings.TrimSpace(pub.Title) == "" {
		return domain.NewValidationError("title", "cannot be empty")
	}
	if pub.AuthorID == uuid.Nil {
		return domain.NewValidationError("author_id", "cannot be empty")
	}
	switch pub.Status {
	case domain.PublicationStatusDraft, domain.PublicationStatusPublished:
	default:
		return domain.NewValidationError("status", "must be draft or published")
	}
	return nil
}

// Create persists a new publication.
func (r *PgPublicationRepository) Create(ctx context.Context, pub *domain.Publication) error {
	if err := validatePublication(pub); err != nil {
		return err
	}

	query := `
		INSERT INTO publications (title, abstract, doi, author_id, co_authors, keywords,
		                          journal_id, issue_id, pages, published_year, status, language,
		                          citation_count, read_count, download_count, document_path,
		                          citations_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		pub.Title,
		pub.Abstract,
		pub.DOI,
		pub.AuthorID,
		pub.CoAuthors,
		pub.Keywords,
		pub.JournalID,
		pub.IssueID,
		pub.Pages,
		pub.PublishedYear,
		pub.Status,
		pub.Language,
		pub.CitationCount,
		pub.ReadCount,
		pub.DownloadCount,
		pub.DocumentPath,
		pub.CitationsSyncedAt,
	).Scan(&pub.ID, &pub.CreatedAt, &pub.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return domain.NewAlreadyExistsError("publication", pub.DOI)
			case "23503":
				return domain.NewValidationError("publication", "referenced entity does not exist")
			}
		}
		return fmt.Errorf("failed to create publication: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an existing publication.
func (r *PgPublicationRepository) Update(ctx context.Context, pub *domain.Publication) error {
	if err := validatePublication(pub); err != nil {
		return err
	}
	if pub.ID == uuid.Nil {
		return domain.NewValidationError("id", "cannot be empty")
	}

	query := `
		UPDATE publications
		SET title = $2, abstract = $3, doi = $4, author_id = $5, co_authors = $6,
		    keywords = $7, journal_id = $8, issue_id = $9, pages = $10,
		    published_year = $11, status = $12, language = $13,
		    citation_count = $14, read_count = $15, download_count = $16,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		pub.ID,
		pub.Title,
		pub.Abstract,
		pub.DOI,
		pub.AuthorID,
		pub.CoAuthors,
		pub.Keywords,
		pub.JournalID,
		pub.IssueID,
		pub.Pages,
		pub.PublishedYear,
		pub.Status,
		pub.Language,
		pub.CitationCount,
		pub.ReadCount,
		pub.DownloadCount,
	).Scan(&pub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("publication", pub.ID.String())
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.NewValidationError("publication", "referenced entity does not exist")
		}
		return fmt.Errorf("failed to update publication: %w", err)
	}
	return nil
}

// GetByID returns the publication with the given ID.
func (r *PgPublicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Publication, error) {
	if id == uuid.Nil {
		return nil, domain.NewValidationError("id", "cannot be empty")
	}

	query := `SELECT ` + publicationColumns + ` FROM publications WHERE id = $1`

	pub, err := scanPublication(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("publication", id.String())
		}
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}
	return pub, nil
}

// FindByDOI returns the publication whose DOI matches case-insensitively.
// The DOI is normalized before matching so registry URL forms and the bare
// identifier resolve to the same row.
func (r *PgPublicationRepository) FindByDOI(ctx context.Context, doi string) (*domain.Publication, error) {
	normalized := domain.NormalizeDOI(doi)
	if normalized == "" {
		return nil, domain.NewValidationError("doi", "cannot be empty")
	}

	query := `
		SELECT ` + publicationColumns + `
		FROM publications
		WHERE LOWER(doi) = $1
		LIMIT 1`

	pub, err := scanPublication(r.db.QueryRow(ctx, query, normalized))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("publication", normalized)
		}
		return nil, fmt.Errorf("failed to find publication by doi: %w", err)
	}
	return pub, nil
}

// SetDocumentPath records the stored document location for a publication.
func (r *PgPublicationRepository) SetDocumentPath(ctx context.Context, id uuid.UUID, path string) error {
	if id == uuid.Nil {
		return domain.NewValidationError("id", "cannot be empty")
	}
	if strings.TrimSpace(path) == "" {
		return domain.NewValidationError("path", "cannot be empty")
	}

	query := `
		UPDATE publications
		SET document_path = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	var updatedAt time.Time
	if err := r.db.QueryRow(ctx, query, id, path).Scan(&updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("publication", id.String())
		}
		return fmt.Errorf("failed to set document path: %w", err)
	}
	return nil
}

// ListForCitationSync returns publications with a DOI that match the filter.
func (r *PgPublicationRepository) ListForCitationSync(ctx context.Context, filter CitationSyncFilter) ([]*domain.Publication, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	query := `SELECT ` + publicationColumns + ` FROM publications WHERE doi <> ''`
	args := []any{}
	argIndex := 1

	if !filter.Force {
		query += fmt.Sprintf(" AND (citations_synced_at IS NULL OR citations_synced_at < $%d)", argIndex)
		args = append(args, filter.SyncedBefore)
		argIndex++
	}
	if filter.JournalID != nil {
		query += fmt.Sprintf(" AND journal_id = $%d", argIndex)
		args = append(args, *filter.JournalID)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY citations_synced_at NULLS FIRST, created_at LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications for citation sync: %w", err)
	}
	defer rows.Close()

	return scanPublications(rows)
}

// CountInCitationCooldown returns how many DOI-bearing publications are
// inside the citation cooldown window.
func (r *PgPublicationRepository) CountInCitationCooldown(ctx context.Context, journalID *uuid.UUID, syncedSince time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM publications WHERE doi <> '' AND citations_synced_at >= $1`
	args := []any{syncedSince}
	if journalID != nil {
		query += " AND journal_id = $2"
		args = append(args, *journalID)
	}

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count publications in citation cooldown: %w", err)
	}
	return count, nil
}

// UpdateCitationCount records a fresh citation count and sync timestamp.
func (r *PgPublicationRepository) UpdateCitationCount(ctx context.Context, id uuid.UUID, count int, syncedAt time.Time) error {
	if id == uuid.Nil {
		return domain.NewValidationError("id", "cannot be empty")
	}
	if count < 0 {
		return domain.NewValidationError("count", "cannot be negative")
	}

	query := `
		UPDATE publications
		SET citation_count = $2, citations_synced_at = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	var updatedAt time.Time
	if err := r.db.QueryRow(ctx, query, id, count, syncedAt).Scan(&updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("publication", id.String())
		}
		return fmt.Errorf("failed to update citation count: %w", err)
	}
	return nil
}

// ListPublishedByAuthor returns the published publications of an author.
func (r *PgPublicationRepository) ListPublishedByAuthor(ctx context.Context, authorID uuid.UUID) ([]*domain.Publication, error) {
	if authorID == uuid.Nil {
		return nil, domain.NewValidationError("author_id", "cannot be empty")
	}

	query := `
		SELECT ` + publicationColumns + `
		FROM publications
		WHERE author_id = $1 AND status = $2
		ORDER BY published_year DESC, created_at`

	rows, err := r.db.Query(ctx, query, authorID, domain.PublicationStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications by author: %w", err)
	}
	defer rows.Close()

	return scanPublications(rows)
}

// ListPublishedByJournal returns the published publications of a journal.
func (r *PgPublicationRepository) ListPublishedByJournal(ctx context.Context, journalID uuid.UUID) ([]*domain.Publication, error) {
	if journalID == uuid.Nil {
		return nil, domain.NewValidationError("journal_id", "cannot be empty")
	}

	query := `
		SELECT ` + publicationColumns + `
		FROM publications
		WHERE journal_id = $1 AND status = $2
		ORDER BY published_year DESC, created_at`

	rows, err := r.db.Query(ctx, query, journalID, domain.PublicationStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications by journal: %w", err)
	}
	defer rows.Close()

	return scanPublications(rows)
}

// Totals returns catalog-wide publication counts.
func (r *PgPublicationRepository) Totals(ctx context.Context) (CatalogTotals, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'published'),
		       COUNT(*) FILTER (WHERE doi <> ''),
		       COUNT(*) FILTER (WHERE document_path <> '')
		FROM publications`

	var t CatalogTotals
	err := r.db.QueryRow(ctx, query).Scan(&t.Publications, &t.Published, &t.WithDOI, &t.WithDocument)
	if err != nil {
		return CatalogTotals{}, fmt.Errorf("failed to count publications: %w", err)
	}
	return t, nil
}

func scanPublication(row pgx.Row) (*domain.Publication, error) {
	var p domain.Publication
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Abstract,
		&p.DOI,
		&p.AuthorID,
		&p.CoAuthors,
		&p.Keywords,
		&p.JournalID,
		&p.IssueID,
		&p.Pages,
		&p.PublishedYear,
		&p.Status,
		&p.Language,
		&p.CitationCount,
		&p.ReadCount,
		&p.DownloadCount,
		&p.DocumentPath,
		&p.CitationsSyncedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPublications(rows pgx.Rows) ([]*domain.Publication, error) {
	var pubs []*domain.Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate publications: %w", err)
	}
	return pubs, nil
}
