// Package crossref provides a client for the Crossref REST API, used to
// refresh citation counts for catalog records by DOI.
//
// API Documentation: https://api.crossref.org/swagger-ui/index.html
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
	"github.com/amirshapkota/research-index/internal/sources"
)

const (
	// DefaultBaseURL is the default Crossref API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit is the default rate limit in requests per second.
	// The polite pool (with mailto) tolerates this comfortably.
	DefaultRateLimit = 10.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the Crossref client.
type Config struct {
	// BaseURL is the Crossref API base URL. Defaults to https://api.crossref.org.
	BaseURL string

	// MailTo is the contact email for the polite pool. Crossref routes
	// requests carrying a mailto identifier to better-provisioned servers.
	MailTo string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// CacheTTL bounds how long successful lookups are replayed from memory.
	CacheTTL time.Duration

	// CacheSize is the maximum number of cached lookups.
	CacheSize int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
}

// Work is the subset of Crossref work metadata the syncer consumes.
type Work struct {
	DOI               string   `json:"DOI"`
	Title             []string `json:"title"`
	ReferencedByCount int      `json:"is-referenced-by-count"`
	ReferenceCount    int      `json:"reference-count"`
	Publisher         string   `json:"publisher"`
	Type              string   `json:"type"`
}

type workResponse struct {
	Status  string `json:"status"`
	Message Work   `json:"message"`
}

// Client looks up citation counts in the Crossref registry.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// New creates a new Crossref client. Metrics may be nil.
func New(cfg Config, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()

	userAgent := "research-index/1.0"
	if cfg.MailTo != "" {
		userAgent = fmt.Sprintf("research-index/1.0 (mailto:%s)", cfg.MailTo)
	}

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:    "crossref",
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		UserAgent: userAgent,
		CacheTTL:  cfg.CacheTTL,
		CacheSize: cfg.CacheSize,
	}, metrics)

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// CitationCount returns the number of works citing the given DOI. Returns
// domain.ErrNotFound when the registry does not know the DOI.
func (c *Client) CitationCount(ctx context.Context, doi string) (int, error) {
	work, err := c.GetWork(ctx, doi)
	if err != nil {
		return 0, err
	}
	return work.ReferencedByCount, nil
}

// GetWork retrieves the registry metadata for one DOI.
func (c *Client) GetWork(ctx context.Context, doi string) (*Work, error) {
	normalized := domain.NormalizeDOI(doi)
	if normalized == "" {
		return nil, domain.NewValidationError("doi", "cannot be empty")
	}

	workURL, err := c.buildWorkURL(normalized)
	if err != nil {
		return nil, fmt.Errorf("building work URL: %w", err)
	}

	body, err := c.httpClient.Get(ctx, workURL)
	if err != nil {
		return nil, fmt.Errorf("looking up doi %s: %w", normalized, err)
	}

	var resp workResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewExternalAPIError("crossref", 0, "malformed work payload", err)
	}
	if resp.Status != "ok" {
		return nil, domain.NewExternalAPIError("crossref", 0,
			fmt.Sprintf("unexpected response status %q", resp.Status), nil)
	}
	return &resp.Message, nil
}

func (c *Client) buildWorkURL(doi string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/works/" + url.PathEscape(doi)

	if c.config.MailTo != "" {
		query := url.Values{}
		query.Set("mailto", c.config.MailTo)
		baseURL.RawQuery = query.Encode()
	}
	return baseURL.String(), nil
}
