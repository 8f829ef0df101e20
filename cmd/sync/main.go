// Package main provides a CLI for running ingestion, citation, and stats
// passes by hand. It shares the database advisory lock with the server, so a
// manual run never overlaps a scheduled one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/citesync"
	"github.com/amirshapkota/research-index/internal/config"
	"github.com/amirshapkota/research-index/internal/database"
	"github.com/amirshapkota/research-index/internal/dedup"
	"github.com/amirshapkota/research-index/internal/documents"
	"github.com/amirshapkota/research-index/internal/engine"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/repository"
	"github.com/amirshapkota/research-index/internal/resolver"
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
	records := flag.Bool("records", false, "Run a publication ingestion pass")
	citations := flag.Bool("citations", false, "Run a citation refresh pass")
	statsPass := flag.Bool("stats", false, "Recalculate author and journal statistics")

	limit := flag.Int("limit", 0, "Maximum records to process (0 = no limit)")
	perJournal := flag.Int("per-journal", 0, "Maximum records per journal (0 = no limit)")
	force := flag.Bool("force", false, "Refresh records and citations regardless of existing state")
	downloadDocs := flag.Bool("documents", false, "Download record documents during ingestion")
	journalID := flag.String("journal", "", "Restrict the citation pass to one journal UUID")
	flag.Parse()

	actionCount := 0
	for _, b := range []*bool{records, citations, statsPass} {
		if *b {
			actionCount++
		}
	}
	if actionCount != 1 {
		flag.Usage()
		return fmt.Errorf("specify exactly one of: -records, -citations, -stats")
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
	})
	logger = logger.With().Str("component", "sync-cli").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	pubRepo := repository.NewPgPublicationRepository(db)

	switch {
	case *records:
		return runIngestion(ctx, cfg, db, pubRepo, logger, engine.Options{
			Limit:             *limit,
			PerJournalLimit:   *perJournal,
			ForceRefresh:      *force,
			SkipDuplicates:    !*force,
			DownloadDocuments: *downloadDocs,
		})

	case *citations:
		opts := citesync.Options{Force: *force, Limit: *limit}
		if *journalID != "" {
			id, parseErr := uuid.Parse(*journalID)
			if parseErr != nil {
				return fmt.Errorf("invalid -journal value %q: %w", *journalID, parseErr)
			}
			opts.JournalID = &id
		}
		return runCitations(ctx, cfg, pubRepo, logger, opts)

	default:
		return runStats(ctx, db, pubRepo, logger)
	}
}

func runIngestion(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	pubRepo repository.PublicationRepository,
	logger zerolog.Logger,
	opts engine.Options,
) error {
	sourceClient := publications.New(publications.Config{
		BaseURL:   cfg.Sources.Publications.BaseURL,
		APIKey:    cfg.Sources.Publications.APIKey,
		Timeout:   cfg.Sources.Publications.Timeout,
		RateLimit: cfg.Sources.Publications.RateLimit,
		PageSize:  cfg.Sources.Publications.PageSize,
		CacheTTL:  cfg.Sources.Publications.CacheTTL,
		CacheSize: cfg.Sources.Publications.CacheSize,
	}, nil)

	guard := dedup.NewGuard(pubRepo)
	recordResolver := resolver.New(resolver.NewPgTxRunner(db), importSource, logger, nil)

	syncEngine := engine.New(sourceClient, guard, recordResolver, logger).
		WithIngestLock(db, database.IngestLockKey).
		WithPageFailureLimit(cfg.Sync.PageFailureLimit)

	if opts.DownloadDocuments {
		downloader := documents.NewDownloader(documents.DownloaderConfig{
			Timeout:              cfg.Documents.Timeout,
			MaxSize:              cfg.Documents.MaxSize,
			UserAgent:            cfg.Documents.UserAgent,
			AllowPrivateNetworks: cfg.Documents.AllowPrivateNetworks,
		})
		syncEngine.WithAttacher(documents.NewFetcher(downloader, pubRepo, documents.FetcherConfig{
			Dir: cfg.Documents.Dir,
		}, logger, nil))
	}

	if _, err := syncEngine.Start(ctx, opts); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}
	syncEngine.Wait()

	run, _ := syncEngine.Status()
	logger.Info().
		Str("state", string(run.State)).
		Int("created", run.Counters.Created).
		Int("updated", run.Counters.Updated).
		Int("skipped", run.Counters.Skipped).
		Int("errored", run.Counters.Errored).
		Dur("duration", run.Duration()).
		Msg("ingestion finished")

	if run.State == engine.StateFailed {
		return fmt.Errorf("ingestion failed: %s", run.Error)
	}
	return nil
}

func runCitations(
	ctx context.Context,
	cfg *config.Config,
	pubRepo repository.PublicationRepository,
	logger zerolog.Logger,
	opts citesync.Options,
) error {
	crossrefClient := crossref.New(crossref.Config{
		BaseURL:   cfg.Sources.Crossref.BaseURL,
		MailTo:    cfg.Sources.Crossref.MailTo,
		Timeout:   cfg.Sources.Crossref.Timeout,
		RateLimit: cfg.Sources.Crossref.RateLimit,
		CacheTTL:  cfg.Sources.Crossref.CacheTTL,
		CacheSize: cfg.Sources.Crossref.CacheSize,
	}, nil)

	syncer := citesync.New(pubRepo, crossrefClient, cfg.Sync.CitationCooldown, logger, nil)

	result, err := syncer.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("citation sync: %w", err)
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("not_found", result.NotFound).
		Int("errored", result.Errored).
		Msg("citation sync finished")
	return nil
}

func runStats(ctx context.Context, db *database.DB, pubRepo repository.PublicationRepository, logger zerolog.Logger) error {
	aggregator := stats.NewAggregator(
		repository.NewPgAuthorRepository(db),
		repository.NewPgJournalRepository(db),
		repository.NewPgIssueRepository(db),
		pubRepo,
		logger,
		nil,
	)

	updated, failed, err := aggregator.RecalculateAll(ctx)
	if err != nil {
		return fmt.Errorf("stats recalculation: %w", err)
	}

	logger.Info().Int("updated", updated).Int("failed", failed).Msg("stats recalculation finished")
	if failed > 0 {
		logger.Warn().Int("failed", failed).Msg("some entities could not be recalculated")
	}
	return nil
}
