// Command migrate manages the database schema from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/config"
	"github.com/amirshapkota/research-index/internal/database"
	"github.com/amirshapkota/research-index/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		up      = flag.Bool("up", false, "apply all pending migrations")
		down    = flag.Bool("down", false, "revert all migrations")
		steps   = flag.Int("steps", 0, "apply N migrations (negative reverts)")
		version = flag.Bool("version", false, "print the current schema version")
		force   = flag.Int("force", -1, "overwrite the recorded version (dirty-schema recovery)")
		dirFlag = flag.String("path", "", "migrations directory (defaults to config)")
	)
	flag.Parse()

	actions := 0
	for _, set := range []bool{*up, *down, *steps != 0, *version, *force >= 0} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		flag.Usage()
		return errors.New("pick exactly one of -up, -down, -steps N, -version, -force V")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	dir := cfg.Database.MigrationPath
	if *dirFlag != "" {
		dir = *dirFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, dir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close migrator")
		}
	}()

	switch {
	case *up:
		err = migrator.Up()
	case *down:
		err = migrator.Down()
	case *steps != 0:
		err = migrator.Steps(*steps)
	case *force >= 0:
		err = migrator.Force(*force)
	}
	if err != nil {
		return err
	}

	reportVersion(migrator, logger)
	return nil
}

func reportVersion(m *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("schema version unknown")
		return
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
}
