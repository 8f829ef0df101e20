package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/dedup"
	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/sources/publications"
)

// Sentinel ownership for imported entities. One sentinel account exists per
// import source; all import-created journals hang off one organization.
const (
	sentinelEmailDomain = "researchindex.import"
	sentinelOrgName     = "External Imports"
)

// entityCacheSize bounds each of the resolver's committed-entity caches.
// Import batches revisit the same venues and authors constantly; caching
// them saves a lookup per record.
const entityCacheSize = 1024

// Outcome reports what one record resolution did.
type Outcome struct {
	Publication    *domain.Publication
	Created        bool
	JournalCreated bool
	AuthorCreated  bool
	IssueCreated   bool
}

// Resolver matches or creates the journal, author, and issue referenced by a
// raw record and writes the publication row, atomically per record. Resolved
// entities are cached, but only after their transaction commits, so a rolled
// back record can never poison the caches.
type Resolver struct {
	tx      TxRunner
	source  string
	logger  zerolog.Logger
	metrics *observability.Metrics

	journals *expirable.LRU[string, *domain.Journal]
	authors  *expirable.LRU[string, *domain.Author]
	issues   *expirable.LRU[string, *domain.Issue]

	mu       sync.Mutex
	sentinel *domain.Account
}

// New creates a resolver for the named import source. Metrics may be nil.
func New(tx TxRunner, source string, logger zerolog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		tx:       tx,
		source:   source,
		logger:   logger.With().Str("component", "resolver").Str("source", source).Logger(),
		metrics:  metrics,
		journals: expirable.NewLRU[string, *domain.Journal](entityCacheSize, nil, 0),
		authors:  expirable.NewLRU[string, *domain.Author](entityCacheSize, nil, 0),
		issues:   expirable.NewLRU[string, *domain.Issue](entityCacheSize, nil, 0),
	}
}

// SentinelEmail returns the sentinel account email for the resolver's source.
func (r *Resolver) SentinelEmail() string {
	return fmt.Sprintf("system.%s@%s", strings.ToLower(r.source), sentinelEmailDomain)
}

// Apply resolves one raw record according to the dedup decision. For
// ActionCreate a new publication row is written; for ActionUpdate the
// existing row's bibliographic fields are replaced while counters, document
// path, and citation sync state survive. Everything happens in one
// transaction: a failure in any step leaves no half-created entities.
func (r *Resolver) Apply(ctx context.Context, rec *publications.RawRecord, decision dedup.Decision) (*Outcome, error) {
	if rec == nil {
		return nil, domain.NewValidationError("record", "cannot be nil")
	}
	if decision.Action == dedup.ActionSkip {
		return nil, domain.NewValidationError("decision", "skip decisions are not applied")
	}
	if decision.Action == dedup.ActionUpdate && decision.Existing == nil {
		return nil, domain.NewValidationError("decision", "update requires an existing publication")
	}

	primaryAuthor := rec.CorrespondingAuthor()
	if primaryAuthor == "" {
		return nil, domain.NewValidationError("authors", "record has no author names")
	}

	var (
		outcome Outcome
		account *domain.Account
		journal *domain.Journal
		author  *domain.Author
		issue   *domain.Issue
	)
	err := r.tx.InTx(ctx, func(ctx context.Context, repos Repos) error {
		var err error
		if account = r.sentinelAccount(); account == nil {
			account, _, err = repos.Accounts.GetOrCreate(ctx, r.SentinelEmail(), sentinelAccountName(r.source), domain.AccountKindSentinelImport)
			if err != nil {
				return fmt.Errorf("resolving sentinel account: %w", err)
			}
		}

		var journalCreated, authorCreated, issueCreated bool
		journal, journalCreated, err = r.resolveJournal(ctx, repos, rec, account.ID)
		if err != nil {
			return err
		}

		author, authorCreated, err = r.resolveAuthor(ctx, repos, primaryAuthor, account.ID)
		if err != nil {
			return err
		}

		issue, issueCreated, err = r.resolveIssue(ctx, repos, rec, journal)
		if err != nil {
			return err
		}

		pub, created, err := r.writePublication(ctx, repos, rec, decision, author.ID, journal, issue)
		if err != nil {
			return err
		}

		outcome = Outcome{
			Publication:    pub,
			Created:        created,
			JournalCreated: journalCreated,
			AuthorCreated:  authorCreated,
			IssueCreated:   issueCreated,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cacheCommitted(rec, account, journal, author, issue)
	r.recordMetrics(&outcome)
	return &outcome, nil
}

// cacheCommitted remembers the record's resolved entities for later records.
// It runs only after the record's transaction has committed.
func (r *Resolver) cacheCommitted(rec *publications.RawRecord, account *domain.Account, journal *domain.Journal, author *domain.Author, issue *domain.Issue) {
	r.mu.Lock()
	r.sentinel = account
	r.mu.Unlock()

	if journal != nil {
		for _, key := range journalCacheKeys(rec) {
			r.journals.Add(key, journal)
		}
	}
	if author != nil {
		r.authors.Add(strings.ToLower(author.Name), author)
	}
	if issue != nil {
		r.issues.Add(issueCacheKey(issue.JournalID, issue.Volume, issue.Number), issue)
	}
}

func (r *Resolver) sentinelAccount() *domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentinel
}

// journalCacheKeys lists the identities a record's venue is cached under, in
// the same precedence order the catalog lookup uses.
func journalCacheKeys(rec *publications.RawRecord) []string {
	var keys []string
	if rec.EISSN != "" {
		keys = append(keys, "eissn:"+strings.ToLower(rec.EISSN))
	}
	if rec.ISSN != "" {
		keys = append(keys, "issn:"+strings.ToLower(rec.ISSN))
	}
	if rec.VenueTitle != "" {
		keys = append(keys, "title:"+strings.ToLower(rec.VenueTitle))
	}
	return keys
}

func issueCacheKey(journalID uuid.UUID, volume, number int) string {
	return fmt.Sprintf("%s|%d|%d", journalID, volume, number)
}

// resolveJournal matches the record's venue by eISSN, then ISSN, then
// case-insensitive title, creating it when nothing matches. Records without
// venue information resolve to no journal.
func (r *Resolver) resolveJournal(ctx context.Context, repos Repos, rec *publications.RawRecord, accountID uuid.UUID) (*domain.Journal, bool, error) {
	if rec.VenueTitle == "" && rec.ISSN == "" && rec.EISSN == "" {
		return nil, false, nil
	}

	for _, key := range journalCacheKeys(rec) {
		if cached, ok := r.journals.Get(key); ok {
			return cached, false, nil
		}
	}

	for _, issn := range []string{rec.EISSN, rec.ISSN} {
		if issn == "" {
			continue
		}
		journal, err := repos.Journals.FindByISSN(ctx, issn)
		if err == nil {
			return journal, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("matching journal by issn: %w", err)
		}
	}

	if rec.VenueTitle != "" {
		journal, err := repos.Journals.FindByTitle(ctx, rec.VenueTitle)
		if err == nil {
			return journal, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("matching journal by title: %w", err)
		}
	}

	title := rec.VenueTitle
	if title == "" {
		title = "Unknown venue (" + firstNonEmpty(rec.EISSN, rec.ISSN) + ")"
	}

	org, _, err := repos.Organizations.GetOrCreate(ctx, sentinelOrgName, accountID, domain.OrganizationKindSentinelImport)
	if err != nil {
		return nil, false, fmt.Errorf("resolving import organization: %w", err)
	}

	journal := &domain.Journal{
		Title:          title,
		ISSN:           rec.ISSN,
		EISSN:          rec.EISSN,
		Publisher:      rec.Publisher,
		OrganizationID: org.ID,
	}
	if err := repos.Journals.Create(ctx, journal); err != nil {
		return nil, false, fmt.Errorf("creating journal: %w", err)
	}
	r.logger.Debug().Str("journal", journal.Title).Msg("created journal")
	return journal, true, nil
}

// resolveAuthor matches the primary author by case-insensitive name,
// creating a sentinel-owned author when nothing matches.
func (r *Resolver) resolveAuthor(ctx context.Context, repos Repos, name string, accountID uuid.UUID) (*domain.Author, bool, error) {
	if cached, ok := r.authors.Get(strings.ToLower(name)); ok {
		return cached, false, nil
	}

	author, err := repos.Authors.FindByName(ctx, name)
	if err == nil {
		return author, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("matching author by name: %w", err)
	}

	author = &domain.Author{
		Name:      name,
		AccountID: accountID,
	}
	if err := repos.Authors.Create(ctx, author); err != nil {
		return nil, false, fmt.Errorf("creating author: %w", err)
	}
	r.logger.Debug().Str("author", author.Name).Msg("created author")
	return author, true, nil
}

// resolveIssue matches or creates the (journal, volume, number) issue.
// Records missing either value, or without a journal, resolve to no issue.
func (r *Resolver) resolveIssue(ctx context.Context, repos Repos, rec *publications.RawRecord, journal *domain.Journal) (*domain.Issue, bool, error) {
	if journal == nil || rec.Volume <= 0 || rec.IssueNumber <= 0 {
		return nil, false, nil
	}

	if cached, ok := r.issues.Get(issueCacheKey(journal.ID, rec.Volume, rec.IssueNumber)); ok {
		return cached, false, nil
	}

	issue, err := repos.Issues.Find(ctx, journal.ID, rec.Volume, rec.IssueNumber)
	if err == nil {
		return issue, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("matching issue: %w", err)
	}

	issue = &domain.Issue{
		JournalID: journal.ID,
		Volume:    rec.Volume,
		Number:    rec.IssueNumber,
	}
	if err := repos.Issues.Create(ctx, issue); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Concurrent writer won the triple; use its row.
			issue, err = repos.Issues.Find(ctx, journal.ID, rec.Volume, rec.IssueNumber)
			if err != nil {
				return nil, false, fmt.Errorf("re-matching issue: %w", err)
			}
			return issue, false, nil
		}
		return nil, false, fmt.Errorf("creating issue: %w", err)
	}
	return issue, true, nil
}

func (r *Resolver) writePublication(ctx context.Context, repos Repos, rec *publications.RawRecord, decision dedup.Decision, authorID uuid.UUID, journal *domain.Journal, issue *domain.Issue) (*domain.Publication, bool, error) {
	var journalID, issueID *uuid.UUID
	if journal != nil {
		journalID = &journal.ID
	}
	if issue != nil {
		issueID = &issue.ID
	}

	language := rec.Language
	if language == "" {
		language = "en"
	}

	if decision.Action == dedup.ActionUpdate {
		pub := decision.Existing
		pub.Title = rec.Title
		pub.Abstract = rec.Abstract
		pub.DOI = rec.DOI
		pub.AuthorID = authorID
		pub.CoAuthors = strings.Join(rec.CoAuthorNames(), ", ")
		pub.Keywords = strings.Join(rec.Keywords, ", ")
		pub.JournalID = journalID
		pub.IssueID = issueID
		pub.Pages = rec.Pages
		pub.PublishedYear = rec.PublishedYear
		pub.Language = language
		if err := repos.Publications.Update(ctx, pub); err != nil {
			return nil, false, fmt.Errorf("updating publication: %w", err)
		}
		return pub, false, nil
	}

	pub := &domain.Publication{
		Title:         rec.Title,
		Abstract:      rec.Abstract,
		DOI:           rec.DOI,
		AuthorID:      authorID,
		CoAuthors:     strings.Join(rec.CoAuthorNames(), ", "),
		Keywords:      strings.Join(rec.Keywords, ", "),
		JournalID:     journalID,
		IssueID:       issueID,
		Pages:         rec.Pages,
		PublishedYear: rec.PublishedYear,
		Status:        domain.PublicationStatusPublished,
		Language:      language,
	}
	if err := repos.Publications.Create(ctx, pub); err != nil {
		return nil, false, fmt.Errorf("creating publication: %w", err)
	}
	return pub, true, nil
}

func (r *Resolver) recordMetrics(outcome *Outcome) {
	if r.metrics == nil {
		return
	}
	mark := func(kind string, created bool) {
		if created {
			r.metrics.RecordEntityCreated(kind)
		} else {
			r.metrics.RecordEntityMatched(kind)
		}
	}
	mark("journal", outcome.JournalCreated)
	mark("author", outcome.AuthorCreated)
	if outcome.IssueCreated {
		r.metrics.RecordEntityCreated("issue")
	}
}

func sentinelAccountName(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return "External Import"
	}
	return strings.ToUpper(source[:1]) + source[1:] + " Import"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
