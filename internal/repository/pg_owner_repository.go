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

// Compile-time interface checks.
var (
	_ AccountRepository      = (*PgAccountRepository)(nil)
	_ OrganizationRepository = (*PgOrganizationRepository)(nil)
)

// PgAccountRepository is the PostgreSQL implementation of AccountRepository.
type PgAccountRepository struct {
	db DBTX
}

// NewPgAccountRepository creates a new PostgreSQL account repository.
func NewPgAccountRepository(db DBTX) *PgAccountRepository {
	return &PgAccountRepository{db: db}
}

// GetOrCreate returns the account with the given email, creating it when missing.
func (r *PgAccountRepository) GetOrCreate(ctx context.Context, email, name string, kind domain.AccountKind) (*domain.Account, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, false, domain.NewValidationError("email", "cannot be empty")
	}
	if name = strings.TrimSpace(name); name == "" {
		return nil, false, domain.NewValidationError("name", "cannot be empty")
	}
	if kind != domain.AccountKindReal && kind != domain.AccountKindSentinelImport {
		return nil, false, domain.NewValidationError("kind", "must be real or sentinel_import")
	}

	existing, err := r.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	query := `
		INSERT INTO accounts (email, name, kind, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, name, kind, active, created_at, updated_at`

	// Sentinel accounts exist only to own imported entities and must never
	// be able to sign in.
	active := kind == domain.AccountKindReal
	account, err := scanAccount(r.db.QueryRow(ctx, query, email, name, kind, active))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost a race with a concurrent insert; the row exists now.
			existing, getErr := r.GetByEmail(ctx, email)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}
	return account, true, nil
}

// GetByEmail returns the account with the given email, case-insensitively.
func (r *PgAccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if strings.TrimSpace(email) == "" {
		return nil, domain.NewValidationError("email", "cannot be empty")
	}

	query := `
		SELECT id, email, name, kind, active, created_at, updated_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1)`

	account, err := scanAccount(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("account", email)
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return account, nil
}

// GetByID returns the account with the given ID.
func (r *PgAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if id == uuid.Nil {
		return nil, domain.NewValidationError("id", "cannot be empty")
	}

	query := `
		SELECT id, email, name, kind, active, created_at, updated_at
		FROM accounts
		WHERE id = $1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("account", id.String())
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Kind, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// PgOrganizationRepository is the PostgreSQL implementation of OrganizationRepository.
type PgOrganizationRepository struct {
	db DBTX
}

// NewPgOrganizationRepository creates a new PostgreSQL organization repository.
func NewPgOrganizationRepository(db DBTX) *PgOrganizationRepository {
	return &PgOrganizationRepository{db: db}
}

// GetOrCreate returns the organization with the given name, creating it when missing.
func (r *PgOrganizationRepository) GetOrCreate(ctx context.Context, name string, accountID uuid.UUID, kind domain.OrganizationKind) (*domain.Organization, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, domain.NewValidationError("name", "cannot be empty")
	}
	if accountID == uuid.Nil {
		return nil, false, domain.NewValidationError("account_id", "cannot be empty")
	}
	if kind != domain.OrganizationKindReal && kind != domain.OrganizationKindSentinelImport {
		return nil, false, domain.NewValidationError("kind", "must be real or sentinel_import")
	}

	findQuery := `
		SELECT id, name, account_id, kind, active, created_at, updated_at
		FROM organizations
		WHERE LOWER(name) = LOWER($1)`

	org, err := scanOrganization(r.db.QueryRow(ctx, findQuery, name))
	if err == nil {
		return org, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to find organization: %w", err)
	}

	insertQuery := `
		INSERT INTO organizations (name, account_id, kind, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, account_id, kind, active, created_at, updated_at`

	// Like sentinel accounts, the sentinel import organization stays
	// inactive so it never surfaces as a real publisher.
	active := kind == domain.OrganizationKindReal
	org, err = scanOrganization(r.db.QueryRow(ctx, insertQuery, name, accountID, kind, active))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				org, findErr := scanOrganization(r.db.QueryRow(ctx, findQuery, name))
				if findErr != nil {
					return nil, false, fmt.Errorf("failed to find organization: %w", findErr)
				}
				return org, false, nil
			case "23503":
				return nil, false, domain.NewValidationError("account_id", "account does not exist")
			}
		}
		return nil, false, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, true, nil
}

// GetByID returns the organization with the given ID.
func (r *PgOrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	if id == uuid.Nil {
		return nil, domain.NewValidationError("id", "cannot be empty")
	}

	query := `
		SELECT id, name, account_id, kind, active, created_at, updated_at
		FROM organizations
		WHERE id = $1`

	org, err := scanOrganization(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("organization", id.String())
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

func scanOrganization(row pgx.Row) (*domain.Organization, error) {
	var o domain.Organization
	err := row.Scan(&o.ID, &o.Name, &o.AccountID, &o.Kind, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
