package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/dedup"
	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/resolver"
	"github.com/amirshapkota/research-index/internal/sources/publications"
)

const (
	// defaultPageFailureLimit aborts the run after this many failed pages
	// in a row. Isolated page failures only skip that page.
	defaultPageFailureLimit = 3

	// maxHistory bounds the in-memory run history ring.
	maxHistory = 20

	// maxErrorSamples bounds how many failure messages a run snapshot keeps.
	maxErrorSamples = 5
)

// RecordFetcher pulls pages of raw records from the upstream source.
type RecordFetcher interface {
	FetchPage(ctx context.Context, offset, pageSize int) (*publications.Page, error)
	PageSize() int
}

// DuplicateChecker decides whether an incoming record is new, a duplicate to
// skip, or a duplicate to refresh.
type DuplicateChecker interface {
	Decide(ctx context.Context, doi string, forceRefresh bool) (dedup.Decision, error)
}

// RecordResolver persists one record and its referenced entities atomically.
type RecordResolver interface {
	Apply(ctx context.Context, rec *publications.RawRecord, decision dedup.Decision) (*resolver.Outcome, error)
}

// DocumentAttacher downloads and stores a record's artifacts. Attachment is
// best effort: failures never roll back the persisted record.
type DocumentAttacher interface {
	Attach(ctx context.Context, publicationID uuid.UUID, refs []publications.DocumentRef) (string, error)
}

// IngestLocker guards a run against concurrent ingestion from other
// processes. The in-process mutex already covers a single instance.
type IngestLocker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) error
}

// Engine coordinates sync runs. At most one run is active at a time; Start
// returns domain.ErrSyncBusy while a run is in flight.
type Engine struct {
	fetcher          RecordFetcher
	checker          DuplicateChecker
	resolver         RecordResolver
	attacher         DocumentAttacher
	locker           IngestLocker
	lockKey          int64
	pageFailureLimit int
	logger           zerolog.Logger
	metrics          *observability.Metrics

	mu      sync.Mutex
	current *Run
	history []Run
	wg      sync.WaitGroup

	stopRequested atomic.Bool
}

// New creates a sync engine. The attacher, locker, and metrics are optional;
// a nil attacher disables document downloads regardless of run options.
func New(fetcher RecordFetcher, checker DuplicateChecker, res RecordResolver, logger zerolog.Logger) *Engine {
	return &Engine{
		fetcher:          fetcher,
		checker:          checker,
		resolver:         res,
		pageFailureLimit: defaultPageFailureLimit,
		logger:           logger.With().Str("component", "sync_engine").Logger(),
	}
}

// WithPageFailureLimit overrides how many consecutive failed pages abort a run.
func (e *Engine) WithPageFailureLimit(n int) *Engine {
	if n > 0 {
		e.pageFailureLimit = n
	}
	return e
}

// WithAttacher enables document downloads for runs that request them.
func (e *Engine) WithAttacher(a DocumentAttacher) *Engine {
	e.attacher = a
	return e
}

// WithIngestLock makes runs hold a cross-process advisory lock for their
// whole duration.
func (e *Engine) WithIngestLock(l IngestLocker, key int64) *Engine {
	e.locker = l
	e.lockKey = key
	return e
}

// WithMetrics attaches run metrics.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// Start begins a sync run in the background and returns its initial
// snapshot. It returns domain.ErrSyncBusy when a run is already active, and
// leaves the active run untouched.
func (e *Engine) Start(ctx context.Context, opts Options) (Run, error) {
	e.mu.Lock()
	if e.current != nil && !e.current.State.Terminal() {
		e.mu.Unlock()
		e.recordBusy()
		return Run{}, domain.ErrSyncBusy
	}
	e.mu.Unlock()

	if e.locker != nil {
		acquired, err := e.locker.AcquireAdvisoryLock(ctx, e.lockKey)
		if err != nil {
			return Run{}, err
		}
		if !acquired {
			e.recordBusy()
			return Run{}, domain.ErrSyncBusy
		}
	}

	run := &Run{
		ID:        uuid.New(),
		State:     StateRunning,
		Options:   opts,
		StartedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	if e.current != nil && !e.current.State.Terminal() {
		// Lost the race to another Start between the check and here.
		e.mu.Unlock()
		e.releaseLock()
		e.recordBusy()
		return Run{}, domain.ErrSyncBusy
	}
	e.current = run
	e.stopRequested.Store(false)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordSyncStarted()
	}
	e.logger.Info().
		Str("run_id", run.ID.String()).
		Int("limit", opts.Limit).
		Bool("force_refresh", opts.ForceRefresh).
		Bool("download_documents", opts.DownloadDocuments).
		Msg("sync run started")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(ctx, run.ID)
	}()

	return *run, nil
}

// Stop requests a cooperative stop of the active run. The run finishes its
// current record and transitions to stopped. Returns
// domain.ErrSyncNotRunning when no run is active.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.State.Terminal() {
		return domain.ErrSyncNotRunning
	}
	e.stopRequested.Store(true)
	e.logger.Info().Str("run_id", e.current.ID.String()).Msg("stop requested")
	return nil
}

// Status returns a snapshot of the most recent run and whether one exists.
func (e *Engine) Status() (Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Run{}, false
	}
	return *e.current, true
}

// History returns finished runs, newest first.
func (e *Engine) History() []Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Run, len(e.history))
	for i, r := range e.history {
		out[len(e.history)-1-i] = r
	}
	return out
}

// Wait blocks until the active run, if any, has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// execute drives the page loop for one run. It owns the run's terminal
// transition and the advisory lock release.
func (e *Engine) execute(ctx context.Context, runID uuid.UUID) {
	defer e.releaseLock()

	var (
		opts        Options
		counters    Counters
		samples     []string
		perVenue    map[string]int
		offset      int
		consecutive int
		pageSize    = e.fetcher.PageSize()
		finalState  = StateCompleted
		finalErr    string
	)

	e.mu.Lock()
	opts = e.current.Options
	e.mu.Unlock()

	if opts.PerJournalLimit > 0 {
		perVenue = make(map[string]int)
	}

loop:
	for {
		if e.stopRequested.Load() {
			finalState = StateStopped
			break
		}
		if err := ctx.Err(); err != nil {
			finalState = StateStopped
			finalErr = err.Error()
			break
		}
		if opts.Limit > 0 && counters.Processed() >= opts.Limit {
			break
		}

		e.setProgress(PhaseFetching, "")
		page, err := e.fetcher.FetchPage(ctx, offset, pageSize)
		if err != nil {
			counters.PageFailures++
			consecutive++
			addSample(&samples, fmt.Sprintf("page offset %d: %v", offset, err))
			e.logger.Warn().Err(err).
				Str("run_id", runID.String()).
				Int("offset", offset).
				Int("consecutive_failures", consecutive).
				Msg("page fetch failed")
			if consecutive >= e.pageFailureLimit {
				finalState = StateFailed
				finalErr = fmt.Sprintf("aborted after %d consecutive page failures: %v", consecutive, err)
				break
			}
			offset += pageSize
			e.publishCounters(counters, samples)
			continue
		}
		consecutive = 0
		counters.PagesFetched++
		counters.RecordsFetched += len(page.Records)

		for i := range page.Records {
			if e.stopRequested.Load() {
				finalState = StateStopped
				e.publishCounters(counters, samples)
				break loop
			}
			if err := ctx.Err(); err != nil {
				finalState = StateStopped
				finalErr = err.Error()
				e.publishCounters(counters, samples)
				break loop
			}
			if opts.Limit > 0 && counters.Processed() >= opts.Limit {
				e.publishCounters(counters, samples)
				break loop
			}
			e.setProgress(PhaseResolving, page.Records[i].DOI)
			e.processRecord(ctx, runID, &page.Records[i], opts, &counters, &samples, perVenue)
		}
		e.publishCounters(counters, samples)

		if !page.HasMore {
			break
		}
		// Advance by the wire count, not the usable count: the fetcher may
		// drop unusable records, and a fully-dropped page must still move
		// the offset forward.
		switch {
		case page.Fetched > 0:
			offset += page.Fetched
		case len(page.Records) > 0:
			offset += len(page.Records)
		default:
			offset += pageSize
		}
	}

	e.finish(runID, finalState, finalErr, counters, samples)
}

// processRecord runs dedup, resolution, and optional document attachment for
// one record, updating counters in place. Record-level failures are counted
// and never abort the run.
func (e *Engine) processRecord(ctx context.Context, runID uuid.UUID, rec *publications.RawRecord, opts Options, counters *Counters, samples *[]string, perVenue map[string]int) {
	log := e.logger.With().
		Str("run_id", runID.String()).
		Str("doi", rec.DOI).
		Logger()

	if perVenue != nil {
		if key := venueKey(rec); key != "" && perVenue[key] >= opts.PerJournalLimit {
			counters.Skipped++
			e.recordOutcome("skipped")
			return
		}
	}

	decision, err := e.checker.Decide(ctx, rec.DOI, opts.refresh())
	if err != nil {
		counters.Errored++
		e.recordOutcome("errored")
		addSample(samples, fmt.Sprintf("doi %s: duplicate check: %v", rec.DOI, err))
		log.Warn().Err(err).Msg("duplicate check failed")
		return
	}
	if decision.Action == dedup.ActionSkip {
		counters.Skipped++
		e.recordOutcome("skipped")
		return
	}

	outcome, err := e.resolver.Apply(ctx, rec, decision)
	if err != nil {
		counters.Errored++
		e.recordOutcome("errored")
		addSample(samples, fmt.Sprintf("doi %s: resolve: %v", rec.DOI, err))
		log.Warn().Err(err).Str("action", decision.Action.String()).Msg("record resolution failed")
		return
	}

	if outcome.Created {
		counters.Created++
		e.recordOutcome("created")
	} else {
		counters.Updated++
		e.recordOutcome("updated")
	}
	tallyEntities(counters, outcome)
	if perVenue != nil {
		if key := venueKey(rec); key != "" {
			perVenue[key]++
		}
	}

	if opts.DownloadDocuments && e.attacher != nil && len(rec.Documents) > 0 && outcome.Publication != nil {
		if _, err := e.attacher.Attach(ctx, outcome.Publication.ID, rec.Documents); err != nil {
			counters.DocumentFailures++
			log.Warn().Err(err).Msg("document attachment failed")
		} else {
			counters.DocumentsAttached++
		}
	}
}

// tallyEntities rolls the resolver's per-entity outcome into the run
// counters. A record without a venue resolves no journal or issue and counts
// toward neither column.
func tallyEntities(counters *Counters, outcome *resolver.Outcome) {
	pub := outcome.Publication
	switch {
	case outcome.JournalCreated:
		counters.JournalsCreated++
	case pub != nil && pub.JournalID != nil:
		counters.JournalsMatched++
	}
	if outcome.AuthorCreated {
		counters.AuthorsCreated++
	} else {
		counters.AuthorsMatched++
	}
	switch {
	case outcome.IssueCreated:
		counters.IssuesCreated++
	case pub != nil && pub.IssueID != nil:
		counters.IssuesMatched++
	}
}

// setProgress updates the live snapshot's position within the run.
func (e *Engine) setProgress(phase Phase, doi string) {
	e.mu.Lock()
	if e.current != nil {
		e.current.Phase = phase
		e.current.CurrentDOI = doi
	}
	e.mu.Unlock()
}

// publishCounters copies the working counters into the shared run snapshot.
func (e *Engine) publishCounters(counters Counters, samples []string) {
	e.mu.Lock()
	if e.current != nil {
		e.current.Counters = counters
		e.current.ErrorSamples = append([]string(nil), samples...)
	}
	e.mu.Unlock()
}

// addSample appends a failure message unless the sample buffer is full.
func addSample(samples *[]string, msg string) {
	if len(*samples) < maxErrorSamples {
		*samples = append(*samples, msg)
	}
}

// finish transitions the run to a terminal state and records it in history.
func (e *Engine) finish(runID uuid.UUID, state State, errMsg string, counters Counters, samples []string) {
	now := time.Now().UTC()

	e.mu.Lock()
	run := e.current
	if run == nil || run.ID != runID {
		e.mu.Unlock()
		return
	}
	run.State = state
	run.Error = errMsg
	run.Counters = counters
	run.ErrorSamples = samples
	run.FinishedAt = &now
	run.Phase = ""
	run.CurrentDOI = ""
	e.history = append(e.history, *run)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	snapshot := *run
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordSyncFinished(string(state), snapshot.Duration().Seconds())
	}
	e.logger.Info().
		Str("run_id", runID.String()).
		Str("state", string(state)).
		Int("created", counters.Created).
		Int("updated", counters.Updated).
		Int("skipped", counters.Skipped).
		Int("errored", counters.Errored).
		Dur("duration", snapshot.Duration()).
		Msg("sync run finished")
}

// releaseLock drops the advisory lock if one is configured. Release uses a
// fresh context so a canceled run context cannot leak the lock.
func (e *Engine) releaseLock() {
	if e.locker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.locker.ReleaseAdvisoryLock(ctx, e.lockKey); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release ingest lock")
	}
}

func (e *Engine) recordBusy() {
	if e.metrics != nil {
		e.metrics.RecordSyncBusy()
	}
}

func (e *Engine) recordOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordRecordProcessed(outcome)
	}
}

// venueKey identifies a record's venue for per-journal limiting. Records
// without any venue identity are not limited.
func venueKey(rec *publications.RawRecord) string {
	if rec.EISSN != "" {
		return "eissn:" + strings.ToLower(rec.EISSN)
	}
	if rec.ISSN != "" {
		return "issn:" + strings.ToLower(rec.ISSN)
	}
	if rec.VenueTitle != "" {
		return "title:" + strings.ToLower(strings.TrimSpace(rec.VenueTitle))
	}
	return ""
}
