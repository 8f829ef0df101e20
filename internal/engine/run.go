// Package engine orchestrates publication synchronization runs: fetching
// pages of raw records, deduplicating, resolving entities, and optionally
// attaching documents, with single-flight execution and cooperative stop.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a sync run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateStopped:
		return true
	default:
		return false
	}
}

// Options controls one sync run.
type Options struct {
	// Limit caps how many records the run processes. Zero means no cap.
	Limit int `json:"limit"`

	// PerJournalLimit caps records accepted per venue. Zero means no cap.
	PerJournalLimit int `json:"per_journal_limit"`

	// ForceRefresh updates existing records in place instead of skipping.
	ForceRefresh bool `json:"force_refresh"`

	// SkipDuplicates keeps existing records untouched. When false,
	// duplicates are refreshed as if ForceRefresh were set.
	SkipDuplicates bool `json:"skip_duplicates"`

	// DownloadDocuments attaches record artifacts after persistence.
	DownloadDocuments bool `json:"download_documents"`
}

// refresh reports whether matched records should be updated in place.
func (o Options) refresh() bool {
	return o.ForceRefresh || !o.SkipDuplicates
}

// Phase is where a running sync currently is.
type Phase string

const (
	// PhaseFetching means the engine is pulling a page from the source.
	PhaseFetching Phase = "fetching"

	// PhaseResolving means the engine is working through a page's records.
	PhaseResolving Phase = "resolving"
)

// Counters accumulates per-run outcome counts, including how many of each
// referenced entity kind the resolver created versus matched.
type Counters struct {
	PagesFetched      int `json:"pages_fetched"`
	PageFailures      int `json:"page_failures"`
	RecordsFetched    int `json:"records_fetched"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Skipped           int `json:"skipped"`
	Errored           int `json:"errored"`
	JournalsCreated   int `json:"journals_created"`
	JournalsMatched   int `json:"journals_matched"`
	AuthorsCreated    int `json:"authors_created"`
	AuthorsMatched    int `json:"authors_matched"`
	IssuesCreated     int `json:"issues_created"`
	IssuesMatched     int `json:"issues_matched"`
	DocumentsAttached int `json:"documents_attached"`
	DocumentFailures  int `json:"document_failures"`
}

// Processed returns how many records reached a decision.
func (c Counters) Processed() int {
	return c.Created + c.Updated + c.Skipped + c.Errored
}

// Run is a snapshot of one sync run. Snapshots are value copies; the engine
// owns the mutable state behind them.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	State      State      `json:"state"`
	Options    Options    `json:"options"`
	Counters   Counters   `json:"counters"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Phase and CurrentDOI locate a running sync. Both are cleared when
	// the run reaches a terminal state.
	Phase      Phase  `json:"phase,omitempty"`
	CurrentDOI string `json:"current_doi,omitempty"`

	// ErrorSamples holds the first few page and record failures, for
	// diagnosing a run without trawling logs.
	ErrorSamples []string `json:"error_samples,omitempty"`
}

// Duration returns how long the run has been active, or took in total.
func (r Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	if r.StartedAt.IsZero() {
		return 0
	}
	return time.Since(r.StartedAt)
}
