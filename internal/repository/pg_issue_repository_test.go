package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirshapkota/research-index/internal/domain"
)

func TestPgIssueRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates issue successfully", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgIssueRepository(mock)
		issue := &domain.Issue{JournalID: uuid.New(), Volume: 12, Number: 3, Title: "Spring Issue"}

		mock.ExpectQuery("INSERT INTO issues").
			WithArgs(issue.JournalID, issue.Volume, issue.Number, issue.Title).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(uuid.New(), time.Now(), time.Now()))

		err = repo.Create(ctx, issue)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, issue.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps duplicate triple to already exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgIssueRepository(mock)
		issue := &domain.Issue{JournalID: uuid.New(), Volume: 12, Number: 3}

		mock.ExpectQuery("INSERT INTO issues").
			WithArgs(issue.JournalID, issue.Volume, issue.Number, issue.Title).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = repo.Create(ctx, issue)
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	})

	t.Run("rejects non-positive volume", func(t *testing.T) {
		repo := NewPgIssueRepository(nil)
		err := repo.Create(ctx, &domain.Issue{JournalID: uuid.New(), Volume: 0, Number: 1})

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "volume", validationErr.Field)
	})
}

func TestPgIssueRepository_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("finds issue by journal volume number", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgIssueRepository(mock)
		journalID := uuid.New()
		issueID := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM issues").
			WithArgs(journalID, 4, 2).
			WillReturnRows(pgxmock.NewRows([]string{"id", "journal_id", "volume", "number", "title", "created_at", "updated_at"}).
				AddRow(issueID, journalID, 4, 2, "", time.Now(), time.Now()))

		issue, err := repo.Find(ctx, journalID, 4, 2)
		require.NoError(t, err)
		assert.Equal(t, issueID, issue.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing triple", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgIssueRepository(mock)
		journalID := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM issues").
			WithArgs(journalID, 9, 9).
			WillReturnError(pgx.ErrNoRows)

		issue, err := repo.Find(ctx, journalID, 9, 9)
		assert.Nil(t, issue)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}
