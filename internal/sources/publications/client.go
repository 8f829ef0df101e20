package publications

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/sources"
)

const (
	// DefaultRateLimit is the default rate limit in requests per second.
	// The upstream is a scraped-style source, so the default is conservative.
	DefaultRateLimit = 2.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the default number of records per page.
	DefaultPageSize = 50

	// MaxPageSize is the upstream's page size ceiling.
	MaxPageSize = 200
)

// Field bounds applied during mapping so malformed upstream data cannot
// overflow catalog columns.
const (
	maxTitleLen    = 500
	maxAbstractLen = 10000
	maxNameLen     = 255
	maxListLen     = 50
)

// Config holds configuration for the publication source client.
type Config struct {
	// BaseURL is the publication source API base URL.
	BaseURL string

	// APIKey is an optional API key sent in the X-API-Key header.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// PageSize is the number of records requested per page.
	PageSize int

	// CacheTTL bounds how long successful pages are replayed from memory.
	CacheTTL time.Duration

	// CacheSize is the maximum number of cached pages.
	CacheSize int
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
}

// Client fetches raw publication records from the external source.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// New creates a new publication source client. Metrics may be nil.
func New(cfg Config, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:       "publications",
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		UserAgent:    "research-index/1.0",
		APIKey:       cfg.APIKey,
		APIKeyHeader: "X-API-Key",
		CacheTTL:     cfg.CacheTTL,
		CacheSize:    cfg.CacheSize,
	}, metrics)

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int {
	return c.config.PageSize
}

// FetchPage retrieves one page of raw records at the given offset. The page
// either maps fully or fails as a unit; the caller decides whether to retry
// or skip the offset.
func (c *Client) FetchPage(ctx context.Context, offset, pageSize int) (*Page, error) {
	if offset < 0 {
		return nil, domain.NewValidationError("offset", "cannot be negative")
	}
	if pageSize <= 0 {
		pageSize = c.config.PageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	listURL, err := c.buildListURL(offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("building list URL: %w", err)
	}

	body, err := c.httpClient.Get(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("fetching page at offset %d: %w", offset, err)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewExternalAPIError("publications", 0, "malformed page payload", err)
	}

	records := make([]RawRecord, 0, len(resp.Results))
	for i := range resp.Results {
		rec := mapRecord(&resp.Results[i])
		if rec.Title == "" {
			// A record with no title cannot become a catalog row.
			continue
		}
		records = append(records, rec)
	}

	nextOffset := offset + len(resp.Results)
	return &Page{
		Records: records,
		Fetched: len(resp.Results),
		Total:   resp.Total,
		HasMore: len(resp.Results) > 0 && nextOffset < resp.Total,
	}, nil
}

// DownloadDocument streams the artifact at ref into w and returns the byte
// count. maxBytes caps the transfer; zero means uncapped.
func (c *Client) DownloadDocument(ctx context.Context, ref DocumentRef, w io.Writer, maxBytes int64) (int64, error) {
	if strings.TrimSpace(ref.URL) == "" {
		return 0, domain.NewValidationError("url", "cannot be empty")
	}
	return c.httpClient.Download(ctx, ref.URL, w, maxBytes)
}

func (c *Client) buildListURL(offset, pageSize int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/publications"

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(pageSize))
	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// mapRecord converts one wire record into a bounded RawRecord. Missing
// fields default rather than fail; oversized fields are truncated.
func mapRecord(in *apiRecord) RawRecord {
	rec := RawRecord{
		Title:         truncate(collapseSpace(stripHTML(in.Title)), maxTitleLen),
		Abstract:      truncate(collapseSpace(stripHTML(in.Abstract)), maxAbstractLen),
		DOI:           domain.NormalizeDOI(in.DOI),
		PublishedYear: sanitizeYear(int(in.Year)),
		VenueTitle:    truncate(collapseSpace(in.Journal.Title), maxNameLen),
		ISSN:          truncate(strings.TrimSpace(in.Journal.ISSN), maxNameLen),
		EISSN:         truncate(strings.TrimSpace(in.Journal.EISSN), maxNameLen),
		Publisher:     truncate(collapseSpace(in.Journal.Publisher), maxNameLen),
		Volume:        clampNonNegative(int(in.Volume)),
		IssueNumber:   clampNonNegative(int(in.Issue)),
		Pages:         truncate(strings.TrimSpace(in.Pages), maxNameLen),
		Language:      truncate(strings.ToLower(strings.TrimSpace(in.Language)), 16),
	}

	for _, kw := range in.Keywords {
		kw = collapseSpace(kw)
		if kw == "" {
			continue
		}
		rec.Keywords = append(rec.Keywords, truncate(kw, maxNameLen))
		if len(rec.Keywords) == maxListLen {
			break
		}
	}

	for _, a := range in.Authors {
		name := collapseSpace(a.Name)
		if name == "" {
			continue
		}
		rec.Authors = append(rec.Authors, RawAuthor{
			Name:          truncate(name, maxNameLen),
			Corresponding: a.Corresponding,
		})
		if len(rec.Authors) == maxListLen {
			break
		}
	}

	for _, d := range in.Documents {
		u := strings.TrimSpace(d.URL)
		if u == "" {
			continue
		}
		rec.Documents = append(rec.Documents, DocumentRef{
			URL:  u,
			Kind: strings.ToLower(strings.TrimSpace(d.Kind)),
		})
	}

	return rec
}

func sanitizeYear(year int) int {
	if year < 1500 || year > time.Now().Year()+1 {
		return 0
	}
	return year
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// collapseSpace trims a string and collapses internal whitespace runs to a
// single space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stripHTML removes markup tags from upstream abstracts. A '<' only opens a
// tag when followed by a letter or '/', so stray angle brackets in running
// text survive.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for i, r := range s {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
				b.WriteByte(' ')
			}
		case r == '<' && i+1 < len(s) && (isTagStart(s[i+1])):
			inTag = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isTagStart(c byte) bool {
	return c == '/' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
