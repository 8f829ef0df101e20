// Package main provides the entry point for the research index service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/amirshapkota/research-index/internal/citesync"
	"github.com/amirshapkota/research-index/internal/config"
	"github.com/amirshapkota/research-index/internal/database"
	"github.com/amirshapkota/research-index/internal/dedup"
	"github.com/amirshapkota/research-index/internal/documents"
	"github.com/amirshapkota/research-index/internal/engine"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/repository"
	"github.com/amirshapkota/research-index/internal/resolver"
	"github.com/amirshapkota/research-index/internal/scheduler"
	httpserver "github.com/amirshapkota/research-index/internal/server/http"
	"github.com/amirshapkota/research-index/internal/sources/crossref"
	"github.com/amirshapkota/research-index/internal/sources/publications"
	"github.com/amirshapkota/research-index/internal/stats"
)

const importSource = "publications"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("research-index server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("researchindex")
	}

	// Repositories over the shared pool.
	pubRepo := repository.NewPgPublicationRepository(db)
	authorRepo := repository.NewPgAuthorRepository(db)
	journalRepo := repository.NewPgJournalRepository(db)
	issueRepo := repository.NewPgIssueRepository(db)

	// External source clients.
	sourceClient := publications.New(publications.Config{
		BaseURL:   cfg.Sources.Publications.BaseURL,
		APIKey:    cfg.Sources.Publications.APIKey,
		Timeout:   cfg.Sources.Publications.Timeout,
		RateLimit: cfg.Sources.Publications.RateLimit,
		PageSize:  cfg.Sources.Publications.PageSize,
		CacheTTL:  cfg.Sources.Publications.CacheTTL,
		CacheSize: cfg.Sources.Publications.CacheSize,
	}, metrics)

	crossrefClient := crossref.New(crossref.Config{
		BaseURL:   cfg.Sources.Crossref.BaseURL,
		MailTo:    cfg.Sources.Crossref.MailTo,
		Timeout:   cfg.Sources.Crossref.Timeout,
		RateLimit: cfg.Sources.Crossref.RateLimit,
		CacheTTL:  cfg.Sources.Crossref.CacheTTL,
		CacheSize: cfg.Sources.Crossref.CacheSize,
	}, metrics)

	// Ingestion pipeline.
	guard := dedup.NewGuard(pubRepo)
	recordResolver := resolver.New(resolver.NewPgTxRunner(db), importSource, logger, metrics)

	downloader := documents.NewDownloader(documents.DownloaderConfig{
		Timeout:              cfg.Documents.Timeout,
		MaxSize:              cfg.Documents.MaxSize,
		UserAgent:            cfg.Documents.UserAgent,
		AllowPrivateNetworks: cfg.Documents.AllowPrivateNetworks,
	})
	fetcher := documents.NewFetcher(downloader, pubRepo, documents.FetcherConfig{
		Dir: cfg.Documents.Dir,
	}, logger, metrics)

	syncEngine := engine.New(sourceClient, guard, recordResolver, logger).
		WithAttacher(fetcher).
		WithIngestLock(db, database.IngestLockKey).
		WithPageFailureLimit(cfg.Sync.PageFailureLimit).
		WithMetrics(metrics)

	citationSyncer := citesync.New(pubRepo, crossrefClient, cfg.Sync.CitationCooldown, logger, metrics)
	aggregator := stats.NewAggregator(authorRepo, journalRepo, issueRepo, pubRepo, logger, metrics)

	// Background schedule. Scheduled jobs run detached from the signal
	// context so a shutdown mid-run is handled by the scheduler's own stop.
	sched := scheduler.New(scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		SyncSpec:     cfg.Scheduler.SyncSpec,
		CitationSpec: cfg.Scheduler.CitationSpec,
		StatsSpec:    cfg.Scheduler.StatsSpec,
	}, scheduler.Jobs{
		Sync: func(jobCtx context.Context) error {
			_, err := syncEngine.Start(jobCtx, engine.Options{
				SkipDuplicates:    true,
				DownloadDocuments: cfg.Sync.DownloadDocuments,
			})
			if err != nil {
				return err
			}
			// Hold the job slot until the run finishes so the job context
			// stays alive for its whole duration.
			syncEngine.Wait()
			return nil
		},
		Citations: func(jobCtx context.Context) error {
			_, err := citationSyncer.Run(jobCtx, citesync.Options{})
			return err
		},
		Stats: func(jobCtx context.Context) error {
			_, _, err := aggregator.RecalculateAll(jobCtx)
			return err
		},
	}, logger)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
	}
	httpSrv := httpserver.NewServer(httpCfg, syncEngine, citationSyncer, aggregator, pubRepo, db, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_address", httpCfg.Address).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("research-index is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down research-index")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler did not stop cleanly")
	}

	// Ask an active ingestion run to wind down before the pool closes.
	if err := syncEngine.Stop(); err == nil {
		syncEngine.Wait()
	}

	logger.Info().Msg("research-index shutdown complete")
	return nil
}
