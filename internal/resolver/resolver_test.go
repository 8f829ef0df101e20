package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirshapkota/research-index/internal/dedup"
	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/repository"
	"github.com/amirshapkota/research-index/internal/sources/publications"
)

// memStore is an in-memory catalog shared by the fake repositories.
type memStore struct {
	accounts      []domain.Account
	organizations []domain.Organization
	journals      []domain.Journal
	authors       []domain.Author
	issues        []domain.Issue
	publications  []domain.Publication

	failJournalCreate bool

	accountFetches int
	journalFinds   int
	authorFinds    int
	issueFinds     int
}

func (s *memStore) snapshot() memStore {
	clone := memStore{failJournalCreate: s.failJournalCreate}
	clone.accounts = append(clone.accounts, s.accounts...)
	clone.organizations = append(clone.organizations, s.organizations...)
	clone.journals = append(clone.journals, s.journals...)
	clone.authors = append(clone.authors, s.authors...)
	clone.issues = append(clone.issues, s.issues...)
	clone.publications = append(clone.publications, s.publications...)
	return clone
}

// memTxRunner applies fn to the store and rolls back on error by restoring
// the pre-transaction snapshot.
type memTxRunner struct {
	store *memStore
}

func (r *memTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	before := r.store.snapshot()
	err := fn(ctx, Repos{
		Accounts:      &memAccounts{store: r.store},
		Organizations: &memOrganizations{store: r.store},
		Journals:      &memJournals{store: r.store},
		Authors:       &memAuthors{store: r.store},
		Issues:        &memIssues{store: r.store},
		Publications:  &memPublications{store: r.store},
	})
	if err != nil {
		*r.store = before
	}
	return err
}

type memAccounts struct{ store *memStore }

func (m *memAccounts) GetOrCreate(_ context.Context, email, name string, kind domain.AccountKind) (*domain.Account, bool, error) {
	m.store.accountFetches++
	for i := range m.store.accounts {
		if strings.EqualFold(m.store.accounts[i].Email, email) {
			return &m.store.accounts[i], false, nil
		}
	}
	account := domain.Account{ID: uuid.New(), Email: email, Name: name, Kind: kind, Active: kind == domain.AccountKindReal}
	m.store.accounts = append(m.store.accounts, account)
	return &m.store.accounts[len(m.store.accounts)-1], true, nil
}

func (m *memAccounts) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	for i := range m.store.accounts {
		if strings.EqualFold(m.store.accounts[i].Email, email) {
			return &m.store.accounts[i], nil
		}
	}
	return nil, domain.NewNotFoundError("account", email)
}

func (m *memAccounts) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	for i := range m.store.accounts {
		if m.store.accounts[i].ID == id {
			return &m.store.accounts[i], nil
		}
	}
	return nil, domain.NewNotFoundError("account", id.String())
}

type memOrganizations struct{ store *memStore }

func (m *memOrganizations) GetOrCreate(_ context.Context, name string, accountID uuid.UUID, kind domain.OrganizationKind) (*domain.Organization, bool, error) {
	for i := range m.store.organizations {
		if strings.EqualFold(m.store.organizations[i].Name, name) {
			return &m.store.organizations[i], false, nil
		}
	}
	org := domain.Organization{ID: uuid.New(), Name: name, AccountID: accountID, Kind: kind, Active: kind == domain.OrganizationKindReal}
	m.store.organizations = append(m.store.organizations, org)
	return &m.store.organizations[len(m.store.organizations)-1], true, nil
}

func (m *memOrganizations) GetByID(_ context.Context, id uuid.UUID) (*domain.Organization, error) {
	for i := range m.store.organizations {
		if m.store.organizations[i].ID == id {
			return &m.store.organizations[i], nil
		}
	}
	return nil, domain.NewNotFoundError("organization", id.String())
}

type memJournals struct{ store *memStore }

func (m *memJournals) Create(_ context.Context, journal *domain.Journal) error {
	if m.store.failJournalCreate {
		return errors.New("journal insert failed")
	}
	journal.ID = uuid.New()
	m.store.journals = append(m.store.journals, *journal)
	return nil
}

func (m *memJournals) GetByID(_ context.Context, id uuid.UUID) (*domain.Journal, error) {
	for i := range m.store.journals {
		if m.store.journals[i].ID == id {
			return &m.store.journals[i], nil
		}
	}
	return nil, domain.NewNotFoundError("journal", id.String())
}

func (m *memJournals) FindByISSN(_ context.Context, issn string) (*domain.Journal, error) {
	m.store.journalFinds++
	for i := range m.store.journals {
		j := &m.store.journals[i]
		if strings.EqualFold(j.ISSN, issn) || strings.EqualFold(j.EISSN, issn) {
			return j, nil
		}
	}
	return nil, domain.NewNotFoundError("journal", issn)
}

func (m *memJournals) FindByTitle(_ context.Context, title string) (*domain.Journal, error) {
	m.store.journalFinds++
	for i := range m.store.journals {
		if strings.EqualFold(m.store.journals[i].Title, title) {
			return &m.store.journals[i], nil
		}
	}
	return nil, domain.NewNotFoundError("journal", title)
}

func (m *memJournals) AllIDs(_ context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for i := range m.store.journals {
		ids = append(ids, m.store.journals[i].ID)
	}
	return ids, nil
}

func (m *memJournals) GetStats(_ context.Context, journalID uuid.UUID) (*domain.JournalStats, error) {
	return nil, domain.NewNotFoundError("journal stats", journalID.String())
}

func (m *memJournals) UpdateStats(_ context.Context, _ *domain.JournalStats) error { return nil }

func (m *memJournals) Count(_ context.Context) (int64, error) {
	return int64(len(m.store.journals)), nil
}

type memAuthors struct{ store *memStore }

func (m *memAuthors) Create(_ context.Context, author *domain.Author) error {
	author.ID = uuid.New()
	m.store.authors = append(m.store.authors, *author)
	return nil
}

func (m *memAuthors) GetByID(_ context.Context, id uuid.UUID) (*domain.Author, error) {
	for i := range m.store.authors {
		if m.store.authors[i].ID == id {
			return &m.store.authors[i], nil
		}
	}
	return nil, domain.NewNotFoundError("author", id.String())
}

func (m *memAuthors) FindByName(_ context.Context, name string) (*domain.Author, error) {
	m.store.authorFinds++
	for i := range m.store.authors {
		if strings.EqualFold(m.store.authors[i].Name, name) {
			return &m.store.authors[i], nil
		}
	}
	return nil, domain.NewNotFoundError("author", name)
}

func (m *memAuthors) AllIDs(_ context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for i := range m.store.authors {
		ids = append(ids, m.store.authors[i].ID)
	}
	return ids, nil
}

func (m *memAuthors) GetStats(_ context.Context, authorID uuid.UUID) (*domain.AuthorStats, error) {
	return nil, domain.NewNotFoundError("author stats", authorID.String())
}

func (m *memAuthors) UpdateStats(_ context.Context, _ *domain.AuthorStats) error { return nil }

func (m *memAuthors) Count(_ context.Context) (int64, error) {
	return int64(len(m.store.authors)), nil
}

type memIssues struct{ store *memStore }

func (m *memIssues) Create(_ context.Context, issue *domain.Issue) error {
	for i := range m.store.issues {
		existing := &m.store.issues[i]
		if existing.JournalID == issue.JournalID && existing.Volume == issue.Volume && existing.Number == issue.Number {
			return domain.NewAlreadyExistsError("issue", issue.JournalID.String())
		}
	}
	issue.ID = uuid.New()
	m.store.issues = append(m.store.issues, *issue)
	return nil
}

func (m *memIssues) Find(_ context.Context, journalID uuid.UUID, volume, number int) (*domain.Issue, error) {
	m.store.issueFinds++
	for i := range m.store.issues {
		issue := &m.store.issues[i]
		if issue.JournalID == journalID && issue.Volume == volume && issue.Number == number {
			return issue, nil
		}
	}
	return nil, domain.NewNotFoundError("issue", journalID.String())
}

func (m *memIssues) CountByJournal(_ context.Context, journalID uuid.UUID) (int, error) {
	count := 0
	for i := range m.store.issues {
		if m.store.issues[i].JournalID == journalID {
			count++
		}
	}
	return count, nil
}

type memPublications struct{ store *memStore }

func (m *memPublications) Create(_ context.Context, pub *domain.Publication) error {
	pub.ID = uuid.New()
	pub.CreatedAt = time.Now()
	pub.UpdatedAt = pub.CreatedAt
	m.store.publications = append(m.store.publications, *pub)
	return nil
}

func (m *memPublications) Update(_ context.Context, pub *domain.Publication) error {
	for i := range m.store.publications {
		if m.store.publications[i].ID == pub.ID {
			m.store.publications[i] = *pub
			return nil
		}
	}
	return domain.NewNotFoundError("publication", pub.ID.String())
}

func (m *memPublications) GetByID(_ context.Context, id uuid.UUID) (*domain.Publication, error) {
	for i := range m.store.publications {
		if m.store.publications[i].ID == id {
			return &m.store.publications[i], nil
		}
	}
	return nil, domain.NewNotFoundError("publication", id.String())
}

func (m *memPublications) FindByDOI(_ context.Context, doi string) (*domain.Publication, error) {
	normalized := domain.NormalizeDOI(doi)
	for i := range m.store.publications {
		if strings.EqualFold(m.store.publications[i].DOI, normalized) {
			return &m.store.publications[i], nil
		}
	}
	return nil, domain.NewNotFoundError("publication", normalized)
}

func (m *memPublications) SetDocumentPath(_ context.Context, id uuid.UUID, path string) error {
	for i := range m.store.publications {
		if m.store.publications[i].ID == id {
			m.store.publications[i].DocumentPath = path
			return nil
		}
	}
	return domain.NewNotFoundError("publication", id.String())
}

func (m *memPublications) ListForCitationSync(_ context.Context, _ repository.CitationSyncFilter) ([]*domain.Publication, error) {
	return nil, nil
}

func (m *memPublications) CountInCitationCooldown(_ context.Context, _ *uuid.UUID, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *memPublications) UpdateCitationCount(_ context.Context, id uuid.UUID, count int, syncedAt time.Time) error {
	for i := range m.store.publications {
		if m.store.publications[i].ID == id {
			m.store.publications[i].CitationCount = count
			m.store.publications[i].CitationsSyncedAt = &syncedAt
			return nil
		}
	}
	return domain.NewNotFoundError("publication", id.String())
}

func (m *memPublications) ListPublishedByAuthor(_ context.Context, _ uuid.UUID) ([]*domain.Publication, error) {
	return nil, nil
}

func (m *memPublications) ListPublishedByJournal(_ context.Context, _ uuid.UUID) ([]*domain.Publication, error) {
	return nil, nil
}

func (m *memPublications) Totals(_ context.Context) (repository.CatalogTotals, error) {
	return repository.CatalogTotals{Publications: int64(len(m.store.publications))}, nil
}

func newTestResolver(store *memStore) *Resolver {
	return New(&memTxRunner{store: store}, "publications", zerolog.Nop(), nil)
}

func sampleRecord() *publications.RawRecord {
	return &publications.RawRecord{
		Title:         "Transfer Learning in Genomics",
		Abstract:      "A survey of transfer learning.",
		DOI:           "10.1234/tlg.2024",
		PublishedYear: 2024,
		VenueTitle:    "Bioinformatics Advances",
		ISSN:          "2635-0041",
		Volume:        4,
		IssueNumber:   2,
		Pages:         "33-51",
		Keywords:      []string{"transfer learning", "genomics"},
		Authors: []publications.RawAuthor{
			{Name: "Dana Fox", Corresponding: true},
			{Name: "Lee Park"},
		},
	}
}

func TestResolver_Apply_Create(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	res := newTestResolver(store)

	outcome, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)

	assert.True(t, outcome.Created)
	assert.True(t, outcome.JournalCreated)
	assert.True(t, outcome.AuthorCreated)
	assert.True(t, outcome.IssueCreated)

	require.Len(t, store.publications, 1)
	pub := store.publications[0]
	assert.Equal(t, "Transfer Learning in Genomics", pub.Title)
	assert.Equal(t, "Lee Park", pub.CoAuthors)
	assert.Equal(t, domain.PublicationStatusPublished, pub.Status)
	require.NotNil(t, pub.JournalID)
	require.NotNil(t, pub.IssueID)

	// Sentinel ownership: one inactive sentinel account, one inactive
	// import organization.
	require.Len(t, store.accounts, 1)
	assert.Equal(t, "system.publications@researchindex.import", store.accounts[0].Email)
	assert.True(t, store.accounts[0].IsSentinel())
	assert.False(t, store.accounts[0].Active)
	require.Len(t, store.organizations, 1)
	assert.Equal(t, "External Imports", store.organizations[0].Name)
	assert.True(t, store.organizations[0].IsSentinel())
	assert.False(t, store.organizations[0].Active)
}

func TestResolver_Apply_MatchesExistingEntities(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	res := newTestResolver(store)

	first, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)

	// Same venue in different casing, same author, same issue triple.
	second := sampleRecord()
	second.DOI = "10.1234/tlg.2024.b"
	second.Title = "Another Record"
	second.VenueTitle = "BIOINFORMATICS ADVANCES"
	second.ISSN = ""

	outcome, err := res.Apply(ctx, second, dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)

	assert.False(t, outcome.JournalCreated)
	assert.False(t, outcome.AuthorCreated)
	assert.False(t, outcome.IssueCreated)
	assert.Equal(t, *first.Publication.JournalID, *outcome.Publication.JournalID)
	assert.Equal(t, first.Publication.AuthorID, outcome.Publication.AuthorID)
	assert.Len(t, store.journals, 1)
	assert.Len(t, store.authors, 1)
	assert.Len(t, store.issues, 1)
}

func TestResolver_Apply_ServesRepeatEntitiesFromCache(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	res := newTestResolver(store)

	_, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)

	accountFetches := store.accountFetches
	journalFinds := store.journalFinds
	authorFinds := store.authorFinds
	issueFinds := store.issueFinds

	// A batch revisiting the same venue, author, and issue resolves them
	// without touching the catalog again.
	for i := 0; i < 3; i++ {
		rec := sampleRecord()
		rec.DOI = fmt.Sprintf("10.1234/tlg.2024.%d", i)
		outcome, err := res.Apply(ctx, rec, dedup.Decision{Action: dedup.ActionCreate})
		require.NoError(t, err)
		assert.False(t, outcome.JournalCreated)
		assert.False(t, outcome.AuthorCreated)
		assert.False(t, outcome.IssueCreated)
	}

	assert.Equal(t, accountFetches, store.accountFetches)
	assert.Equal(t, journalFinds, store.journalFinds)
	assert.Equal(t, authorFinds, store.authorFinds)
	assert.Equal(t, issueFinds, store.issueFinds)
	assert.Len(t, store.accounts, 1)
	assert.Len(t, store.journals, 1)
}

func TestResolver_Apply_FailedRecordPopulatesNoCache(t *testing.T) {
	ctx := context.Background()
	store := &memStore{failJournalCreate: true}
	res := newTestResolver(store)

	_, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.Error(t, err)

	// Once the store heals, the record resolves from the catalog, not from
	// entities the rolled-back attempt touched.
	store.failJournalCreate = false
	outcome, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)
	assert.True(t, outcome.JournalCreated)
	assert.True(t, outcome.AuthorCreated)
	assert.Len(t, store.journals, 1)
}

func TestResolver_Apply_ISSNMatchBeatsTitle(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	res := newTestResolver(store)

	_, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)

	renamed := sampleRecord()
	renamed.DOI = "10.1234/other"
	renamed.VenueTitle = "Bioinformatics Advances (New Series)"

	outcome, err := res.Apply(ctx, renamed, dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)
	assert.False(t, outcome.JournalCreated)
	assert.Len(t, store.journals, 1)
}

func TestResolver_Apply_NoVenueNoIssue(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	res := newTestResolver(store)

	rec := sampleRecord()
	rec.VenueTitle = ""
	rec.ISSN = ""
	rec.EISSN = ""

	outcome, err := res.Apply(ctx, rec, dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)

	assert.Nil(t, outcome.Publication.JournalID)
	assert.Nil(t, outcome.Publication.IssueID)
	assert.Empty(t, store.journals)
	assert.Empty(t, store.issues)
}

func TestResolver_Apply_IssueRequiresBothValues(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	res := newTestResolver(store)

	rec := sampleRecord()
	rec.IssueNumber = 0

	outcome, err := res.Apply(ctx, rec, dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)
	assert.Nil(t, outcome.Publication.IssueID)
	assert.Empty(t, store.issues)
}

func TestResolver_Apply_Update(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	res := newTestResolver(store)

	first, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.NoError(t, err)

	// Simulate earlier citation sync and document state.
	existing := first.Publication
	existing.CitationCount = 9
	existing.DocumentPath = "documents/tlg.pdf"
	require.NoError(t, (&memPublications{store: store}).Update(ctx, existing))

	refreshed := sampleRecord()
	refreshed.Title = "Transfer Learning in Genomics (Revised)"
	refreshed.Abstract = "Expanded survey."

	outcome, err := res.Apply(ctx, refreshed, dedup.Decision{Action: dedup.ActionUpdate, Existing: existing})
	require.NoError(t, err)

	assert.False(t, outcome.Created)
	assert.Equal(t, existing.ID, outcome.Publication.ID)
	assert.Equal(t, "Transfer Learning in Genomics (Revised)", outcome.Publication.Title)
	// Counters and stored document survive a refresh.
	assert.Equal(t, 9, outcome.Publication.CitationCount)
	assert.Equal(t, "documents/tlg.pdf", outcome.Publication.DocumentPath)
	assert.Len(t, store.publications, 1)
}

func TestResolver_Apply_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := &memStore{failJournalCreate: true}
	res := newTestResolver(store)

	_, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionCreate})
	require.Error(t, err)

	// Nothing survives the failed transaction, not even the sentinel account.
	assert.Empty(t, store.accounts)
	assert.Empty(t, store.organizations)
	assert.Empty(t, store.journals)
	assert.Empty(t, store.authors)
	assert.Empty(t, store.publications)
}

func TestResolver_Apply_Validation(t *testing.T) {
	ctx := context.Background()
	res := newTestResolver(&memStore{})

	t.Run("rejects nil record", func(t *testing.T) {
		_, err := res.Apply(ctx, nil, dedup.Decision{Action: dedup.ActionCreate})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects record without authors", func(t *testing.T) {
		rec := sampleRecord()
		rec.Authors = nil

		_, err := res.Apply(ctx, rec, dedup.Decision{Action: dedup.ActionCreate})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects skip decisions", func(t *testing.T) {
		_, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionSkip})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects update without existing row", func(t *testing.T) {
		_, err := res.Apply(ctx, sampleRecord(), dedup.Decision{Action: dedup.ActionUpdate})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}
