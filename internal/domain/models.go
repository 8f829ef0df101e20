// Package domain contains the core entities of the research index catalog
// and the error types shared across the service.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountKind distinguishes real registered accounts from sentinel
// placeholder accounts created during external imports.
type AccountKind string

const (
	// AccountKindReal is a normal registered account.
	AccountKindReal AccountKind = "real"

	// AccountKindSentinelImport is an inactive placeholder account that
	// owns entities created by the import engine until they are claimed.
	AccountKindSentinelImport AccountKind = "sentinel_import"
)

// Account owns authors and organizations. Sentinel accounts are created by
// the resolver, are never active, and are queryable by kind.
type Account struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Kind      AccountKind
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSentinel reports whether the account is an import placeholder.
func (a *Account) IsSentinel() bool {
	return a.Kind == AccountKindSentinelImport
}

// OrganizationKind distinguishes real publisher organizations from the
// sentinel organization that owns journals created during imports.
type OrganizationKind string

const (
	OrganizationKindReal           OrganizationKind = "real"
	OrganizationKindSentinelImport OrganizationKind = "sentinel_import"
)

// Organization owns journals. The resolver maintains a single sentinel
// organization for journals created from external imports; like sentinel
// accounts it is never active.
type Organization struct {
	ID        uuid.UUID
	Name      string
	AccountID uuid.UUID
	Kind      OrganizationKind
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSentinel reports whether the organization is an import placeholder.
func (o *Organization) IsSentinel() bool {
	return o.Kind == OrganizationKindSentinelImport
}

// Journal is a publication venue. Stats live in a separate one-to-one
// JournalStats row so they can be rebuilt from publications at any time.
type Journal struct {
	ID             uuid.UUID
	Title          string
	ISSN           string
	EISSN          string
	Publisher      string
	OrganizationID uuid.UUID
	OpenAccess     bool
	PeerReviewed   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JournalStats is the derived bibliometric cache for one journal. It is
// never a source of truth; the aggregator can always reconstruct it.
type JournalStats struct {
	JournalID      uuid.UUID
	ImpactFactor   float64
	CiteScore      float64
	HIndex         int
	TotalArticles  int
	TotalIssues    int
	TotalCitations int
	TotalReads     int
	UpdatedAt      time.Time
}

// Author is a person appearing as the primary author of publications.
// Placeholder authors are owned by a sentinel account and resolved to real
// accounts through a claim process outside this service.
type Author struct {
	ID           uuid.UUID
	Name         string
	ResearcherID string
	AccountID    uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthorStats is the derived bibliometric cache for one author.
type AuthorStats struct {
	AuthorID             uuid.UUID
	HIndex               int
	I10Index             int
	TotalCitations       int
	TotalPublications    int
	TotalReads           int
	TotalDownloads       int
	TotalRecommendations int
	AverageCitations     float64
	UpdatedAt            time.Time
}

// Issue is one (volume, number) pair of a journal. The pair is unique per
// journal.
type Issue struct {
	ID        uuid.UUID
	JournalID uuid.UUID
	Volume    int
	Number    int
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicationStatus is the editorial state of a publication. Only published
// records contribute to statistics.
type PublicationStatus string

const (
	PublicationStatusDraft     PublicationStatus = "draft"
	PublicationStatusPublished PublicationStatus = "published"
)

// Publication is the persisted form of an imported record. The DOI is the
// case-insensitive deduplication key.
type Publication struct {
	ID                uuid.UUID
	Title             string
	Abstract          string
	DOI               string
	AuthorID          uuid.UUID
	CoAuthors         string
	Keywords          string
	JournalID         *uuid.UUID
	IssueID           *uuid.UUID
	Pages             string
	PublishedYear     int
	Status            PublicationStatus
	Language          string
	CitationCount     int
	ReadCount         int
	DownloadCount     int
	DocumentPath      string
	CitationsSyncedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasDOI reports whether the publication carries a usable external
// identifier.
func (p *Publication) HasDOI() bool {
	return strings.TrimSpace(p.DOI) != ""
}

// NormalizeDOI canonicalizes an external identifier for matching: trimmed,
// lower-cased, with common registry URL prefixes stripped.
func NormalizeDOI(doi string) string {
	s := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi:",
	} {
		s = strings.TrimPrefix(s, prefix)
	}
	return s
}
