package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/amirshapkota/research-index/internal/domain"
)

// AccountRepository manages accounts, including the sentinel import
// accounts that own externally ingested entities.
type AccountRepository interface {
	// GetOrCreate returns the account with the given email, creating it
	// with the supplied name and kind when it does not exist. Email
	// matching is case-insensitive. The boolean result reports whether
	// a new account was created.
	GetOrCreate(ctx context.Context, email, name string, kind domain.AccountKind) (*domain.Account, bool, error)

	// GetByEmail returns the account with the given email (case-insensitive),
	// or domain.ErrNotFound when none exists.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// GetByID returns the account with the given ID, or domain.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// OrganizationRepository manages publisher organizations.
type OrganizationRepository interface {
	// GetOrCreate returns the organization with the given name, creating
	// it under the supplied owning account and kind when it does not
	// exist. Name matching is case-insensitive. The boolean result
	// reports whether a new organization was created.
	GetOrCreate(ctx context.Context, name string, accountID uuid.UUID, kind domain.OrganizationKind) (*domain.Organization, bool, error)

	// GetByID returns the organization with the given ID, or domain.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
}
