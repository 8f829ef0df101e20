// Package scheduler runs the recurring background passes: nightly record
// ingestion, citation refresh, and stats recalculation. Manual runs go
// through the HTTP API and share the same single-flight engine, so an
// overlapping scheduled run is simply skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/domain"
)

// Job is one scheduled pass. Jobs receive a fresh context per invocation.
type Job func(ctx context.Context) error

// Jobs bundles the passes the scheduler drives. A nil job is not scheduled.
type Jobs struct {
	Sync      Job
	Citations Job
	Stats     Job
}

// Config holds the cron expressions for each pass. Expressions use the
// standard five-field format. An empty expression disables that pass.
type Config struct {
	Enabled      bool
	SyncSpec     string
	CitationSpec string
	StatsSpec    string
	JobTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.JobTimeout <= 0 {
		c.JobTimeout = 4 * time.Hour
	}
}

// Scheduler wraps a cron runner around the background passes.
type Scheduler struct {
	config Config
	jobs   Jobs
	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates a scheduler. Call Start to register and begin the schedule.
func New(cfg Config, jobs Jobs, logger zerolog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		config: cfg,
		jobs:   jobs,
		cron:   cron.New(),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the configured passes and starts the cron loop. It is a
// no-op when the scheduler is disabled. Invalid cron expressions fail fast.
func (s *Scheduler) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("scheduler disabled")
		return nil
	}

	entries := []struct {
		name string
		spec string
		job  Job
	}{
		{"publication_sync", s.config.SyncSpec, s.jobs.Sync},
		{"citation_sync", s.config.CitationSpec, s.jobs.Citations},
		{"stats_recalc", s.config.StatsSpec, s.jobs.Stats},
	}

	registered := 0
	for _, e := range entries {
		if e.spec == "" || e.job == nil {
			continue
		}
		name, job := e.name, e.job
		if _, err := s.cron.AddFunc(e.spec, func() { s.runJob(name, job) }); err != nil {
			return fmt.Errorf("invalid cron expression for %s (%q): %w", name, e.spec, err)
		}
		s.logger.Info().Str("job", name).Str("spec", e.spec).Msg("scheduled")
		registered++
	}

	if registered == 0 {
		s.logger.Warn().Msg("scheduler enabled but no jobs configured")
		return nil
	}

	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for in-flight jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns how many passes are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// runJob executes one pass with a bounded context. A pass that finds the
// engine busy is logged and skipped; real failures are logged as errors.
// Failures never stop the schedule.
func (s *Scheduler) runJob(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	log := s.logger.With().Str("job", name).Logger()
	log.Info().Msg("scheduled job starting")

	start := time.Now()
	err := job(ctx)
	switch {
	case err == nil:
		log.Info().Dur("duration", time.Since(start)).Msg("scheduled job finished")
	case errors.Is(err, domain.ErrSyncBusy):
		log.Info().Msg("scheduled job skipped, a run is already active")
	default:
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("scheduled job failed")
	}
}
