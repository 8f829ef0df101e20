package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Migrator applies schema migrations from a directory of SQL files. It
// borrows connections from the pool through a database/sql adapter, which
// must be closed to hand them back.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB
	logger  zerolog.Logger
}

// NewMigrator builds a migrator over an open database and a migrations
// directory. The directory is checked up front so a typo fails before any
// connection is taken from the pool.
func NewMigrator(db *DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	if db.pool == nil {
		return nil, errors.New("database pool is closed")
	}
	if dir == "" {
		return nil, errors.New("migrations directory not set")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		logger:  logger.With().Str("component", "migrator").Logger(),
	}, nil
}

// Up applies every pending migration. An already-current schema is not an
// error.
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("schema already current")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logger.Info().Msg("migrations applied")
	return nil
}

// Down reverts every applied migration.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("reverting all migrations")
	if err := m.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("revert migrations: %w", err)
	}
	return nil
}

// Steps moves the schema n migrations forward, or backward when n is
// negative. Running past either end of the migration list is not an error.
func (m *Migrator) Steps(n int) error {
	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("step migrations: %w", err)
	}
	m.logger.Info().Int("steps", n).Msg("migration steps applied")
	return nil
}

// Version reports the current schema version and whether it is dirty.
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Force overwrites the recorded version without running any migration.
// Only useful to recover a dirty schema after a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing schema version")
	return m.migrate.Force(version)
}

// Close releases the migration source and returns the borrowed connections
// to the pool.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	var sqlErr error
	if m.sqlDB != nil {
		sqlErr = m.sqlDB.Close()
	}
	return errors.Join(sourceErr, dbErr, sqlErr)
}
