// Package resolver turns raw publication records into linked catalog rows:
// journal, author, and issue are each matched or created, and the
// publication row is written, all inside one transaction per record.
package resolver

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/amirshapkota/research-index/internal/database"
	"github.com/amirshapkota/research-index/internal/repository"
)

// Repos bundles the repository interfaces one record resolution touches.
type Repos struct {
	Accounts      repository.AccountRepository
	Organizations repository.OrganizationRepository
	Journals      repository.JournalRepository
	Authors       repository.AuthorRepository
	Issues        repository.IssueRepository
	Publications  repository.PublicationRepository
}

// NewRepos builds a Repos bound to the given database handle, which may be
// a pool or an open transaction.
func NewRepos(db repository.DBTX) Repos {
	return Repos{
		Accounts:      repository.NewPgAccountRepository(db),
		Organizations: repository.NewPgOrganizationRepository(db),
		Journals:      repository.NewPgJournalRepository(db),
		Authors:       repository.NewPgAuthorRepository(db),
		Issues:        repository.NewPgIssueRepository(db),
		Publications:  repository.NewPgPublicationRepository(db),
	}
}

// TxRunner executes a function against transaction-scoped repositories.
// A non-nil error from fn rolls the whole transaction back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

// PgTxRunner is the PostgreSQL TxRunner backed by database.DB.
type PgTxRunner struct {
	db *database.DB
}

// NewPgTxRunner creates a TxRunner over the given database.
func NewPgTxRunner(db *database.DB) *PgTxRunner {
	return &PgTxRunner{db: db}
}

var _ TxRunner = (*PgTxRunner)(nil)

// InTx runs fn inside one transaction with repositories bound to it.
func (r *PgTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewRepos(tx))
	})
}
