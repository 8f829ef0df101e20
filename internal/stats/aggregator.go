package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/repository"
)

// Aggregator recalculates derived author and journal statistics from
// publication data and persists them.
type Aggregator struct {
	authors  repository.AuthorRepository
	journals repository.JournalRepository
	issues   repository.IssueRepository
	pubs     repository.PublicationRepository
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewAggregator creates a stats aggregator. Metrics may be nil.
func NewAggregator(
	authors repository.AuthorRepository,
	journals repository.JournalRepository,
	issues repository.IssueRepository,
	pubs repository.PublicationRepository,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Aggregator {
	return &Aggregator{
		authors:  authors,
		journals: journals,
		issues:   issues,
		pubs:     pubs,
		logger:   logger.With().Str("component", "stats").Logger(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// RecalculateAuthor rebuilds and persists the stats row of one author from
// their published publications.
func (a *Aggregator) RecalculateAuthor(ctx context.Context, authorID uuid.UUID) (*domain.AuthorStats, error) {
	pubs, err := a.pubs.ListPublishedByAuthor(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("listing author publications: %w", err)
	}

	stats := ComputeAuthorStats(authorID, pubs)
	if err := a.authors.UpdateStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("persisting author stats: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordStatsRecalculated("author", 1)
	}
	return stats, nil
}

// RecalculateJournal rebuilds and persists the stats row of one journal.
func (a *Aggregator) RecalculateJournal(ctx context.Context, journalID uuid.UUID) (*domain.JournalStats, error) {
	pubs, err := a.pubs.ListPublishedByJournal(ctx, journalID)
	if err != nil {
		return nil, fmt.Errorf("listing journal publications: %w", err)
	}
	issueCount, err := a.issues.CountByJournal(ctx, journalID)
	if err != nil {
		return nil, fmt.Errorf("counting journal issues: %w", err)
	}

	stats := ComputeJournalStats(journalID, pubs, issueCount, a.now().Year())
	if err := a.journals.UpdateStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("persisting journal stats: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordStatsRecalculated("journal", 1)
	}
	return stats, nil
}

// RecalculateAll rebuilds every author and journal stats row. Individual
// failures are logged and counted; the sweep continues.
func (a *Aggregator) RecalculateAll(ctx context.Context) (updated, failed int, err error) {
	start := a.now()
	defer func() {
		if a.metrics != nil {
			a.metrics.ObserveStatsRecalcDuration(time.Since(start).Seconds())
		}
	}()

	authorIDs, err := a.authors.AllIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing authors: %w", err)
	}
	for _, id := range authorIDs {
		if ctx.Err() != nil {
			return updated, failed, ctx.Err()
		}
		if _, err := a.RecalculateAuthor(ctx, id); err != nil {
			a.logger.Warn().Err(err).Str("author_id", id.String()).Msg("author stats recalculation failed")
			failed++
			continue
		}
		updated++
	}

	journalIDs, err := a.journals.AllIDs(ctx)
	if err != nil {
		return updated, failed, fmt.Errorf("listing journals: %w", err)
	}
	for _, id := range journalIDs {
		if ctx.Err() != nil {
			return updated, failed, ctx.Err()
		}
		if _, err := a.RecalculateJournal(ctx, id); err != nil {
			a.logger.Warn().Err(err).Str("journal_id", id.String()).Msg("journal stats recalculation failed")
			failed++
			continue
		}
		updated++
	}

	a.logger.Info().Int("updated", updated).Int("failed", failed).Msg("stats recalculation finished")
	return updated, failed, nil
}

// ComputeAuthorStats derives an author's stats row from their published
// publications. Pure; no persistence.
func ComputeAuthorStats(authorID uuid.UUID, pubs []*domain.Publication) *domain.AuthorStats {
	citations := CitationCounts(pubs)
	totalCitations := 0
	totalReads := 0
	totalDownloads := 0
	for _, p := range pubs {
		totalCitations += p.CitationCount
		totalReads += p.ReadCount
		totalDownloads += p.DownloadCount
	}

	return &domain.AuthorStats{
		AuthorID:          authorID,
		HIndex:            HIndex(citations),
		I10Index:          I10Index(citations),
		TotalCitations:    totalCitations,
		TotalPublications: len(pubs),
		TotalReads:        totalReads,
		TotalDownloads:    totalDownloads,
		AverageCitations:  AverageCitations(totalCitations, len(pubs)),
	}
}

// ComputeJournalStats derives a journal's stats row from its published
// publications. Pure; no persistence.
func ComputeJournalStats(journalID uuid.UUID, pubs []*domain.Publication, issueCount, evaluationYear int) *domain.JournalStats {
	citations := CitationCounts(pubs)
	totalCitations := 0
	totalReads := 0
	for _, p := range pubs {
		totalCitations += p.CitationCount
		totalReads += p.ReadCount
	}

	return &domain.JournalStats{
		JournalID:      journalID,
		ImpactFactor:   ImpactFactor(pubs, evaluationYear),
		CiteScore:      CiteScore(pubs),
		HIndex:         HIndex(citations),
		TotalArticles:  len(pubs),
		TotalIssues:    issueCount,
		TotalCitations: totalCitations,
		TotalReads:     totalReads,
	}
}
