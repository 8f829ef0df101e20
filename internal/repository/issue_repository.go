package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/amirshapkota/research-index/internal/domain"
)

// IssueRepository manages journal issues.
type IssueRepository interface {
	// Create persists a new issue. Returns domain.ErrAlreadyExists when the
	// (journal, volume, number) triple is already taken.
	Create(ctx context.Context, issue *domain.Issue) error

	// Find returns the issue identified by (journal, volume, number), or
	// domain.ErrNotFound.
	Find(ctx context.Context, journalID uuid.UUID, volume, number int) (*domain.Issue, error)

	// CountByJournal returns the number of issues recorded for the journal.
	CountByJournal(ctx context.Context, journalID uuid.UUID) (int, error)
}
