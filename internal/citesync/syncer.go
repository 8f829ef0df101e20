// Package citesync refreshes citation counts of catalog records from the
// citation registry, honoring a per-record cooldown.
package citesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/repository"
)

// DefaultCooldown is how long a refreshed citation count is considered
// current.
const DefaultCooldown = 7 * 24 * time.Hour

// CitationLookup resolves the current citation count for a DOI.
type CitationLookup interface {
	CitationCount(ctx context.Context, doi string) (int, error)
}

// Options controls one sync sweep.
type Options struct {
	// Force refreshes every record with an identifier, ignoring the cooldown.
	Force bool

	// JournalID restricts the sweep to one journal when set.
	JournalID *uuid.UUID

	// Limit caps how many records the sweep touches. Zero applies the
	// repository default.
	Limit int
}

// Result summarizes one sync sweep. Skipped counts DOI-bearing records the
// sweep left untouched because their cooldown has not expired.
type Result struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	NotFound  int `json:"not_found"`
	Errored   int `json:"errored"`
	Skipped   int `json:"skipped"`
}

// Syncer walks records due for refresh and updates their citation counts.
// A failing record is counted and skipped; the sweep never aborts on
// per-record errors.
type Syncer struct {
	pubs     repository.PublicationRepository
	lookup   CitationLookup
	cooldown time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// New creates a citation syncer. A non-positive cooldown falls back to
// DefaultCooldown. Metrics may be nil.
func New(pubs repository.PublicationRepository, lookup CitationLookup, cooldown time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Syncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Syncer{
		pubs:     pubs,
		lookup:   lookup,
		cooldown: cooldown,
		logger:   logger.With().Str("component", "citesync").Logger(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run performs one sweep. Records inside the cooldown window are not
// selected unless opts.Force is set. Returns an error only when the record
// selection itself fails or the context ends; per-record failures are
// reflected in the result counters.
func (s *Syncer) Run(ctx context.Context, opts Options) (Result, error) {
	var result Result

	cutoff := s.now().Add(-s.cooldown)
	pubs, err := s.pubs.ListForCitationSync(ctx, repository.CitationSyncFilter{
		JournalID:    opts.JournalID,
		SyncedBefore: cutoff,
		Force:        opts.Force,
		Limit:        opts.Limit,
	})
	if err != nil {
		return result, fmt.Errorf("selecting records for citation sync: %w", err)
	}

	if !opts.Force {
		skipped, err := s.pubs.CountInCitationCooldown(ctx, opts.JournalID, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to count records inside cooldown")
		} else {
			result.Skipped = int(skipped)
		}
	}

	s.logger.Info().Int("selected", len(pubs)).Int("skipped", result.Skipped).Bool("force", opts.Force).Msg("citation sync started")

	for _, pub := range pubs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++
		s.syncOne(ctx, pub, &result)
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("not_found", result.NotFound).
		Int("errored", result.Errored).
		Int("skipped", result.Skipped).
		Msg("citation sync finished")
	return result, nil
}

func (s *Syncer) syncOne(ctx context.Context, pub *domain.Publication, result *Result) {
	logger := observability.WithRecordContext(s.logger, pub.ID.String(), pub.DOI)

	count, err := s.lookup.CitationCount(ctx, pub.DOI)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Unknown to the registry; stamp the sync time so the record
			// is not retried until the next cooldown expiry.
			result.NotFound++
			s.outcome("not_found")
			if err := s.pubs.UpdateCitationCount(ctx, pub.ID, pub.CitationCount, s.now()); err != nil {
				logger.Warn().Err(err).Msg("failed to stamp citation sync time")
			}
		default:
			result.Errored++
			s.outcome("errored")
			logger.Warn().Err(err).Msg("citation lookup failed")
		}
		return
	}

	if err := s.pubs.UpdateCitationCount(ctx, pub.ID, count, s.now()); err != nil {
		result.Errored++
		s.outcome("errored")
		logger.Warn().Err(err).Msg("failed to update citation count")
		return
	}

	if count == pub.CitationCount {
		result.Unchanged++
		s.outcome("unchanged")
		return
	}

	result.Updated++
	s.outcome("updated")
	logger.Debug().Int("from", pub.CitationCount).Int("to", count).Msg("citation count updated")
}

func (s *Syncer) outcome(kind string) {
	if s.metrics != nil {
		s.metrics.RecordCitationOutcome(kind)
	}
}
