package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/amirshapkota/research-index/internal/domain"
)

// Compile-time interface check.
var _ IssueRepository = (*PgIssueRepository)(nil)

// PgIssueRepository is the PostgreSQL implementation of IssueRepository.
type PgIssueRepository struct {
	db DBTX
}

// NewPgIssueRepository creates a new PostgreSQL issue repository.
func NewPgIssueRepository(db DBTX) *PgIssueRepository {
	return &PgIssueRepository{db: db}
}

// Create persists a new issue.
func (r *PgIssueRepository) Create(ctx context.Context, issue *domain.Issue) error {
	if issue == nil {
		return domain.NewValidationError("issue", "cannot be nil")
	}
	if issue.JournalID == uuid.Nil {
		return domain.NewValidationError("journal_id", "cannot be empty")
	}
	if issue.Volume <= 0 {
		return domain.NewValidationError("volume", "must be positive")
	}
	if issue.Number <= 0 {
		return domain.NewValidationError("number", "must be positive")
	}

	query := `
		INSERT INTO issues (journal_id, volume, number, title)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		issue.JournalID,
		issue.Volume,
		issue.Number,
		issue.Title,
	).Scan(&issue.ID, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return domain.NewAlreadyExistsError("issue",
					fmt.Sprintf("%s vol %d no %d", issue.JournalID, issue.Volume, issue.Number))
			case "23503":
				return domain.NewValidationError("journal_id", "journal does not exist")
			}
		}
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

// Find returns the issue identified by (journal, volume, number).
func (r *PgIssueRepository) Find(ctx context.Context, journalID uuid.UUID, volume, number int) (*domain.Issue, error) {
	if journalID == uuid.Nil {
		return nil, domain.NewValidationError("journal_id", "cannot be empty")
	}

	query := `
		SELECT id, journal_id, volume, number, title, created_at, updated_at
		FROM issues
		WHERE journal_id = $1 AND volume = $2 AND number = $3`

	var i domain.Issue
	err := r.db.QueryRow(ctx, query, journalID, volume, number).Scan(
		&i.ID, &i.JournalID, &i.Volume, &i.Number, &i.Title, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("issue",
				fmt.Sprintf("%s vol %d no %d", journalID, volume, number))
		}
		return nil, fmt.Errorf("failed to find issue: %w", err)
	}
	return &i, nil
}

// CountByJournal returns the number of issues recorded for a journal.
func (r *PgIssueRepository) CountByJournal(ctx context.Context, journalID uuid.UUID) (int, error) {
	if journalID == uuid.Nil {
		return 0, domain.NewValidationError("journal_id", "cannot be empty")
	}

	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM issues WHERE journal_id = $1`, journalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return count, nil
}
