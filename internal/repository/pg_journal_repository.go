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
var _ JournalRepository = (*PgJournalRepository)(nil)

// PgJournalRepository is the PostgreSQL implementation of JournalRepository.
type PgJournalRepository struct {
	db DBTX
}

// NewPgJournalRepository creates a new PostgreSQL journal repository.
func NewPgJournalRepository(db DBTX) *PgJournalRepository {
	return &PgJournalRepository{db: db}
}

const journalColumns = `id, title, issn, eissn, publisher, organization_id, open_access, peer_reviewed, created_at, updated_at`

// Create persists a new journal together with a zeroed stats row.
func (r *PgJournalRepository) Create(ctx context.Context, journal *domain.Journal) error {
	if journal == nil {
		return domain.NewValidationError("journal", "cannot be nil")
	}
	if strings.TrimSpace(journal.Title) == "" {
		return domain.NewValidationError("title", "cannot be empty")
	}
	if journal.OrganizationID == uuid.Nil {
		return domain.NewValidationError("organization_id", "cannot be empty")
	}

	query := `
		INSERT INTO journals (title, issn, eissn, publisher, organization_id, open_access, peer_reviewed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		journal.Title,
		journal.ISSN,
		journal.EISSN,
		journal.Publisher,
		journal.OrganizationID,
		journal.OpenAccess,
		journal.PeerReviewed,
	).Scan(&journal.ID, &journal.CreatedAt, &journal.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return domain.NewAlreadyExistsError("journal", journal.ISSN)
			case "23503":
				return domain.NewValidationError("organization_id", "organization does not exist")
			}
		}
		return fmt.Errorf("failed to create journal: %w", err)
	}

	statsQuery := `
		INSERT INTO journal_stats (journal_id)
		VALUES ($1)
		ON CONFLICT (journal_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, statsQuery, journal.ID); err != nil {
		return fmt.Errorf("failed to create journal stats: %w", err)
	}
	return nil
}

// GetByID returns the journal with the given ID.
func (r *PgJournalRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Journal, error) {
	if id == uuid.Nil {
		return nil, domain.NewValidationError("id", "cannot be empty")
	}

	query := `SELECT ` + journalColumns + ` FROM journals WHERE id = $1`

	journal, err := scanJournal(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("journal", id.String())
		}
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	return journal, nil
}

// FindByISSN returns the journal whose ISSN or eISSN matches the identifier.
func (r *PgJournalRepository) FindByISSN(ctx context.Context, issn string) (*domain.Journal, error) {
	issn = strings.TrimSpace(issn)
	if issn == "" {
		return nil, domain.NewValidationError("issn", "cannot be empty")
	}

	query := `
		SELECT ` + journalColumns + `
		FROM journals
		WHERE LOWER(issn) = LOWER($1) OR LOWER(eissn) = LOWER($1)
		LIMIT 1`

	journal, err := scanJournal(r.db.QueryRow(ctx, query, issn))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("journal", issn)
		}
		return nil, fmt.Errorf("failed to find journal by issn: %w", err)
	}
	return journal, nil
}

// FindByTitle returns the journal whose title matches case-insensitively.
func (r *PgJournalRepository) FindByTitle(ctx context.Context, title string) (*domain.Journal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.NewValidationError("title", "cannot be empty")
	}

	query := `
		SELECT ` + journalColumns + `
		FROM journals
		WHERE LOWER(title) = LOWER($1)
		LIMIT 1`

	journal, err := scanJournal(r.db.QueryRow(ctx, query, title))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("journal", title)
		}
		return nil, fmt.Errorf("failed to find journal by title: %w", err)
	}
	return journal, nil
}

// AllIDs returns every journal ID in the catalog.
func (r *PgJournalRepository) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM journals ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan journal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal ids: %w", err)
	}
	return ids, nil
}

// GetStats returns the derived stats row for a journal.
func (r *PgJournalRepository) GetStats(ctx context.Context, journalID uuid.UUID) (*domain.JournalStats, error) {
	if journalID == uuid.Nil {
		return nil, domain.NewValidationError("journal_id", "cannot be empty")
	}

	query := `
		SELECT journal_id, impact_factor, cite_score, h_index, total_articles,
		       total_issues, total_citations, total_reads, updated_at
		FROM journal_stats
		WHERE journal_id = $1`

	var s domain.JournalStats
	err := r.db.QueryRow(ctx, query, journalID).Scan(
		&s.JournalID,
		&s.ImpactFactor,
		&s.CiteScore,
		&s.HIndex,
		&s.TotalArticles,
		&s.TotalIssues,
		&s.TotalCitations,
		&s.TotalReads,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("journal stats", journalID.String())
		}
		return nil, fmt.Errorf("failed to get journal stats: %w", err)
	}
	return &s, nil
}

// UpdateStats replaces the derived stats row for a journal.
func (r *PgJournalRepository) UpdateStats(ctx context.Context, stats *domain.JournalStats) error {
	if stats == nil {
		return domain.NewValidationError("stats", "cannot be nil")
	}
	if stats.JournalID == uuid.Nil {
		return domain.NewValidationError("journal_id", "cannot be empty")
	}

	query := `
		INSERT INTO journal_stats (journal_id, impact_factor, cite_score, h_index,
		                           total_articles, total_issues, total_citations, total_reads, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (journal_id) DO UPDATE SET
			impact_factor = EXCLUDED.impact_factor,
			cite_score = EXCLUDED.cite_score,
			h_index = EXCLUDED.h_index,
			total_articles = EXCLUDED.total_articles,
			total_issues = EXCLUDED.total_issues,
			total_citations = EXCLUDED.total_citations,
			total_reads = EXCLUDED.total_reads,
			updated_at = NOW()
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		stats.JournalID,
		stats.ImpactFactor,
		stats.CiteScore,
		stats.HIndex,
		stats.TotalArticles,
		stats.TotalIssues,
		stats.TotalCitations,
		stats.TotalReads,
	).Scan(&stats.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.NewNotFoundError("journal", stats.JournalID.String())
		}
		return fmt.Errorf("failed to update journal stats: %w", err)
	}
	return nil
}

// Count returns the number of journals in the catalog.
func (r *PgJournalRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM journals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count journals: %w", err)
	}
	return count, nil
}

func scanJournal(row pgx.Row) (*domain.Journal, error) {
	var j domain.Journal
	err := row.Scan(
		&j.ID,
		&j.Title,
		&j.ISSN,
		&j.EISSN,
		&j.Publisher,
		&j.OrganizationID,
		&j.OpenAccess,
		&j.PeerReviewed,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
