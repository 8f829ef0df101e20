package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirshapkota/research-index/internal/dedup"
	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/resolver"
	"github.com/amirshapkota/research-index/internal/sources/publications"
)

type scriptedPage struct {
	page *publications.Page
	err  error
}

type fakeFetcher struct {
	mu       sync.Mutex
	script   []scriptedPage
	calls    []int
	pageSize int
	onFetch  func(offset int)
	block    chan struct{}
}

func (f *fakeFetcher) PageSize() int {
	if f.pageSize > 0 {
		return f.pageSize
	}
	return 10
}

func (f *fakeFetcher) FetchPage(ctx context.Context, offset, _ int) (*publications.Page, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, offset)
	idx := len(f.calls) - 1
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(offset)
	}
	if idx >= len(f.script) {
		return &publications.Page{}, nil
	}
	s := f.script[idx]
	return s.page, s.err
}

func (f *fakeFetcher) offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeChecker struct {
	mu        sync.Mutex
	existing  map[string]*domain.Publication
	forceSeen []bool
	err       error
}

func (c *fakeChecker) Decide(_ context.Context, doi string, force bool) (dedup.Decision, error) {
	c.mu.Lock()
	c.forceSeen = append(c.forceSeen, force)
	c.mu.Unlock()
	if c.err != nil {
		return dedup.Decision{}, c.err
	}
	if pub, ok := c.existing[domain.NormalizeDOI(doi)]; ok {
		if force {
			return dedup.Decision{Action: dedup.ActionUpdate, Existing: pub}, nil
		}
		return dedup.Decision{Action: dedup.ActionSkip, Existing: pub}, nil
	}
	return dedup.Decision{Action: dedup.ActionCreate}, nil
}

type fakeResolver struct {
	mu       sync.Mutex
	applied  []string
	failDOI  string
	outcomes map[string]resolver.Outcome
	onApply  func(doi string)
}

func (r *fakeResolver) Apply(_ context.Context, rec *publications.RawRecord, decision dedup.Decision) (*resolver.Outcome, error) {
	if r.onApply != nil {
		r.onApply(rec.DOI)
	}
	if r.failDOI != "" && rec.DOI == r.failDOI {
		return nil, errors.New("resolution failed")
	}
	r.mu.Lock()
	r.applied = append(r.applied, rec.DOI)
	r.mu.Unlock()
	outcome := resolver.Outcome{Created: decision.Action == dedup.ActionCreate}
	if scripted, ok := r.outcomes[rec.DOI]; ok {
		scripted.Created = outcome.Created
		outcome = scripted
	}
	if outcome.Publication == nil {
		outcome.Publication = &domain.Publication{ID: uuid.New()}
	}
	return &outcome, nil
}

type fakeAttacher struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (a *fakeAttacher) Attach(_ context.Context, id uuid.UUID, refs []publications.DocumentRef) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, id)
	a.mu.Unlock()
	if len(refs) > 0 && refs[0].URL == "https://files.test/bad.pdf" {
		return "", errors.New("download failed")
	}
	return "documents/" + id.String() + ".pdf", nil
}

type fakeLocker struct {
	mu       sync.Mutex
	deny     bool
	acquires int
	releases int
}

func (l *fakeLocker) AcquireAdvisoryLock(_ context.Context, _ int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	return !l.deny, nil
}

func (l *fakeLocker) ReleaseAdvisoryLock(_ context.Context, _ int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	return nil
}

func testRecord(doi, issn string) publications.RawRecord {
	return publications.RawRecord{
		Title:   "Record " + doi,
		DOI:     doi,
		ISSN:    issn,
		Authors: []publications.RawAuthor{{Name: "Jane Roe", Corresponding: true}},
	}
}

func onePage(records ...publications.RawRecord) *publications.Page {
	return &publications.Page{Records: records, Total: len(records)}
}

func newTestEngine(f *fakeFetcher, c *fakeChecker, r *fakeResolver) *Engine {
	return New(f, c, r, zerolog.Nop())
}

func TestEngineRunCompletes(t *testing.T) {
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: &publications.Page{
			Records: []publications.RawRecord{
				testRecord("10.1/a", ""),
				testRecord("10.1/b", ""),
				testRecord("10.1/c", ""),
			},
			Total:   5,
			HasMore: true,
		}},
		{page: onePage(testRecord("10.1/d", ""), testRecord("10.1/e", ""))},
	}}
	checker := &fakeChecker{}
	res := &fakeResolver{}
	eng := newTestEngine(fetcher, checker, res)

	run, err := eng.Start(context.Background(), Options{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, run.State)
	eng.Wait()

	status, ok := eng.Status()
	require.True(t, ok)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 2, status.Counters.PagesFetched)
	assert.Equal(t, 5, status.Counters.RecordsFetched)
	assert.Equal(t, 5, status.Counters.Created)
	assert.Zero(t, status.Counters.Errored)
	require.NotNil(t, status.FinishedAt)
	assert.Equal(t, []int{0, 3}, fetcher.offsets())
}

func TestEngineSingleFlight(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{block: block, script: []scriptedPage{
		{page: onePage(testRecord("10.1/a", ""))},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})

	first, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)

	_, err = eng.Start(context.Background(), Options{})
	require.ErrorIs(t, err, domain.ErrSyncBusy)

	// The rejected start must not touch the active run.
	status, ok := eng.Status()
	require.True(t, ok)
	assert.Equal(t, first.ID, status.ID)
	assert.Equal(t, StateRunning, status.State)
	assert.Zero(t, status.Counters.Processed())

	close(block)
	eng.Wait()

	status, _ = eng.Status()
	assert.Equal(t, StateCompleted, status.State)

	// A terminal run frees the slot.
	_, err = eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()
}

func TestEngineCooperativeStop(t *testing.T) {
	page := &publications.Page{
		Records: []publications.RawRecord{testRecord("10.1/a", ""), testRecord("10.1/b", "")},
		Total:   100,
		HasMore: true,
	}
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: page}, {page: page}, {page: page},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})
	fetcher.onFetch = func(offset int) {
		if offset > 0 {
			assert.NoError(t, eng.Stop())
		}
	}

	_, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateStopped, status.State)
	// None of the second page's records are processed after the stop.
	assert.Equal(t, 2, status.Counters.Created)
}

func TestEngineStopWithoutRun(t *testing.T) {
	eng := newTestEngine(&fakeFetcher{}, &fakeChecker{}, &fakeResolver{})
	require.ErrorIs(t, eng.Stop(), domain.ErrSyncNotRunning)
}

func TestEngineSkipsFailedPage(t *testing.T) {
	fetcher := &fakeFetcher{pageSize: 2, script: []scriptedPage{
		{err: errors.New("upstream timeout")},
		{page: onePage(testRecord("10.1/a", ""))},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})

	_, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 1, status.Counters.PageFailures)
	assert.Equal(t, 1, status.Counters.PagesFetched)
	assert.Equal(t, 1, status.Counters.Created)
	// The failed page is skipped by one page size.
	assert.Equal(t, []int{0, 2}, fetcher.offsets())
	require.Len(t, status.ErrorSamples, 1)
	assert.Contains(t, status.ErrorSamples[0], "upstream timeout")
}

func TestEngineAdvancesPastFilteredPages(t *testing.T) {
	// The fetcher drops unusable records, so a page can carry fewer usable
	// records than were on the wire, or none at all. The offset must still
	// move by the wire count.
	fetcher := &fakeFetcher{pageSize: 4, script: []scriptedPage{
		{page: &publications.Page{
			Records: []publications.RawRecord{testRecord("10.1/a", "")},
			Fetched: 4,
			Total:   12,
			HasMore: true,
		}},
		{page: &publications.Page{
			Fetched: 4,
			Total:   12,
			HasMore: true,
		}},
		{page: &publications.Page{
			Records: []publications.RawRecord{testRecord("10.1/b", "")},
			Fetched: 4,
			Total:   12,
		}},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})

	_, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, []int{0, 4, 8}, fetcher.offsets())
	assert.Equal(t, 2, status.Counters.Created)
}

func TestEngineAbortsAfterConsecutivePageFailures(t *testing.T) {
	fetcher := &fakeFetcher{script: []scriptedPage{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("down")},
		{page: onePage(testRecord("10.1/a", ""))},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})

	_, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, defaultPageFailureLimit, status.Counters.PageFailures)
	assert.Contains(t, status.Error, "consecutive page failures")
	assert.Len(t, fetcher.offsets(), 3)
}

func TestEngineEntityCounters(t *testing.T) {
	journalID := uuid.New()
	issueID := uuid.New()
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: onePage(
			testRecord("10.1/new", "1111-1111"),
			testRecord("10.1/known", "1111-1111"),
			testRecord("10.1/bare", ""),
		)},
	}}
	res := &fakeResolver{outcomes: map[string]resolver.Outcome{
		"10.1/new": {JournalCreated: true, AuthorCreated: true, IssueCreated: true},
		"10.1/known": {Publication: &domain.Publication{
			ID:        uuid.New(),
			JournalID: &journalID,
			IssueID:   &issueID,
		}},
		"10.1/bare": {AuthorCreated: true},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, res)

	_, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 1, status.Counters.JournalsCreated)
	assert.Equal(t, 1, status.Counters.JournalsMatched)
	assert.Equal(t, 2, status.Counters.AuthorsCreated)
	assert.Equal(t, 1, status.Counters.AuthorsMatched)
	assert.Equal(t, 1, status.Counters.IssuesCreated)
	assert.Equal(t, 1, status.Counters.IssuesMatched)
}

func TestEngineProgressSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: onePage(testRecord("10.1/a", ""))},
	}}
	res := &fakeResolver{}
	eng := newTestEngine(fetcher, &fakeChecker{}, res)

	var seen Run
	res.onApply = func(string) {
		seen, _ = eng.Status()
	}

	_, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()

	// While a record is being resolved the snapshot names it.
	assert.Equal(t, PhaseResolving, seen.Phase)
	assert.Equal(t, "10.1/a", seen.CurrentDOI)

	// Terminal snapshots carry no position.
	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Empty(t, status.Phase)
	assert.Empty(t, status.CurrentDOI)
}

func TestEngineRecordLimit(t *testing.T) {
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: &publications.Page{
			Records: []publications.RawRecord{
				testRecord("10.1/a", ""),
				testRecord("10.1/b", ""),
				testRecord("10.1/c", ""),
				testRecord("10.1/d", ""),
			},
			Total:   8,
			HasMore: true,
		}},
	}}
	res := &fakeResolver{}
	eng := newTestEngine(fetcher, &fakeChecker{}, res)

	_, err := eng.Start(context.Background(), Options{Limit: 3})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 3, status.Counters.Created)
	assert.Len(t, res.applied, 3)
	assert.Len(t, fetcher.offsets(), 1)
}

func TestEnginePerJournalLimit(t *testing.T) {
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: onePage(
			testRecord("10.1/a", "1234-5678"),
			testRecord("10.1/b", "1234-5678"),
			testRecord("10.1/c", "9999-0000"),
			testRecord("10.1/d", "1234-5678"),
		)},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})

	_, err := eng.Start(context.Background(), Options{PerJournalLimit: 1})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 2, status.Counters.Created)
	assert.Equal(t, 2, status.Counters.Skipped)
}

func TestEngineDuplicateHandling(t *testing.T) {
	existing := &domain.Publication{ID: uuid.New(), DOI: "10.1/known"}
	newChecker := func() *fakeChecker {
		return &fakeChecker{existing: map[string]*domain.Publication{"10.1/known": existing}}
	}
	pages := func() []scriptedPage {
		return []scriptedPage{{page: onePage(
			testRecord("10.1/known", ""),
			testRecord("10.1/fresh", ""),
		)}}
	}

	t.Run("skip duplicates leaves matches untouched", func(t *testing.T) {
		checker := newChecker()
		eng := newTestEngine(&fakeFetcher{script: pages()}, checker, &fakeResolver{})
		_, err := eng.Start(context.Background(), Options{SkipDuplicates: true})
		require.NoError(t, err)
		eng.Wait()

		status, _ := eng.Status()
		assert.Equal(t, 1, status.Counters.Skipped)
		assert.Equal(t, 1, status.Counters.Created)
		assert.Equal(t, []bool{false, false}, checker.forceSeen)
	})

	t.Run("force refresh updates matches", func(t *testing.T) {
		checker := newChecker()
		eng := newTestEngine(&fakeFetcher{script: pages()}, checker, &fakeResolver{})
		_, err := eng.Start(context.Background(), Options{SkipDuplicates: true, ForceRefresh: true})
		require.NoError(t, err)
		eng.Wait()

		status, _ := eng.Status()
		assert.Equal(t, 1, status.Counters.Updated)
		assert.Equal(t, 1, status.Counters.Created)
		assert.Equal(t, []bool{true, true}, checker.forceSeen)
	})

	t.Run("not skipping duplicates implies refresh", func(t *testing.T) {
		checker := newChecker()
		eng := newTestEngine(&fakeFetcher{script: pages()}, checker, &fakeResolver{})
		_, err := eng.Start(context.Background(), Options{})
		require.NoError(t, err)
		eng.Wait()

		status, _ := eng.Status()
		assert.Equal(t, 1, status.Counters.Updated)
		assert.Equal(t, []bool{true, true}, checker.forceSeen)
	})
}

func TestEngineCountsRecordFailures(t *testing.T) {
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: onePage(
			testRecord("10.1/bad", ""),
			testRecord("10.1/good", ""),
		)},
	}}
	res := &fakeResolver{failDOI: "10.1/bad"}
	eng := newTestEngine(fetcher, &fakeChecker{}, res)

	_, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 1, status.Counters.Errored)
	assert.Equal(t, 1, status.Counters.Created)
	assert.Equal(t, []string{"10.1/good"}, res.applied)
	require.Len(t, status.ErrorSamples, 1)
	assert.Contains(t, status.ErrorSamples[0], "10.1/bad")
}

func TestEngineDocumentAttachment(t *testing.T) {
	good := testRecord("10.1/good", "")
	good.Documents = []publications.DocumentRef{{URL: "https://files.test/good.pdf", Kind: "pdf"}}
	bad := testRecord("10.1/bad", "")
	bad.Documents = []publications.DocumentRef{{URL: "https://files.test/bad.pdf", Kind: "pdf"}}
	plain := testRecord("10.1/plain", "")

	fetcher := &fakeFetcher{script: []scriptedPage{{page: onePage(good, bad, plain)}}}
	attacher := &fakeAttacher{}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{}).WithAttacher(attacher)

	_, err := eng.Start(context.Background(), Options{DownloadDocuments: true})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 3, status.Counters.Created)
	assert.Equal(t, 1, status.Counters.DocumentsAttached)
	assert.Equal(t, 1, status.Counters.DocumentFailures)
	assert.Len(t, attacher.calls, 2)
}

func TestEngineIngestLock(t *testing.T) {
	t.Run("denied lock rejects the run", func(t *testing.T) {
		locker := &fakeLocker{deny: true}
		eng := newTestEngine(&fakeFetcher{}, &fakeChecker{}, &fakeResolver{}).
			WithIngestLock(locker, 42)

		_, err := eng.Start(context.Background(), Options{})
		require.ErrorIs(t, err, domain.ErrSyncBusy)
		_, ok := eng.Status()
		assert.False(t, ok)
	})

	t.Run("lock is released after the run", func(t *testing.T) {
		locker := &fakeLocker{}
		fetcher := &fakeFetcher{script: []scriptedPage{{page: onePage(testRecord("10.1/a", ""))}}}
		eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{}).
			WithIngestLock(locker, 42)

		_, err := eng.Start(context.Background(), Options{})
		require.NoError(t, err)
		eng.Wait()

		assert.Equal(t, 1, locker.acquires)
		assert.Equal(t, 1, locker.releases)
	})
}

func TestEngineHistory(t *testing.T) {
	fetcher := &fakeFetcher{script: []scriptedPage{
		{page: onePage(testRecord("10.1/a", ""))},
		{page: onePage(testRecord("10.1/b", ""))},
	}}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})

	first, err := eng.Start(context.Background(), Options{})
	require.NoError(t, err)
	eng.Wait()
	second, err := eng.Start(context.Background(), Options{Limit: 1})
	require.NoError(t, err)
	eng.Wait()

	history := eng.History()
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
	for _, run := range history {
		assert.True(t, run.State.Terminal())
		require.NotNil(t, run.FinishedAt)
	}
}

func TestEngineContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := &publications.Page{
		Records: []publications.RawRecord{testRecord("10.1/a", "")},
		Total:   100,
		HasMore: true,
	}
	fetcher := &fakeFetcher{script: []scriptedPage{{page: page}, {page: page}}}
	fetcher.onFetch = func(offset int) {
		if offset > 0 {
			cancel()
		}
	}
	eng := newTestEngine(fetcher, &fakeChecker{}, &fakeResolver{})

	_, err := eng.Start(ctx, Options{})
	require.NoError(t, err)
	eng.Wait()

	status, _ := eng.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, context.Canceled.Error(), status.Error)
}

func TestRunDuration(t *testing.T) {
	started := time.Now().Add(-2 * time.Second).UTC()
	finished := started.Add(1500 * time.Millisecond)
	run := Run{StartedAt: started, FinishedAt: &finished}
	assert.Equal(t, 1500*time.Millisecond, run.Duration())
	assert.Zero(t, Run{}.Duration())
}
