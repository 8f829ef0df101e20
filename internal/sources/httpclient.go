package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/observability"
)

// Maximum response body size accepted from an external source.
const maxResponseBytes = 16 << 20

// HTTPClientConfig configures the rate-limited HTTP client.
type HTTPClientConfig struct {
	// Source names the external service for error reporting and metrics.
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// UserAgent is the client identifier sent with every request. External
	// sources with polite-usage pools route on it.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key").
	APIKeyHeader string

	// CacheTTL is how long successful GET responses are replayed from
	// memory. Zero disables caching; values above 24h are clamped.
	CacheTTL time.Duration

	// CacheSize is the maximum number of cached responses.
	CacheSize int
}

// HTTPClient wraps http.Client with rate limiting and a TTL response cache.
// It does not retry: callers own the retry policy, so a failing page can be
// abandoned without consuming extra rate budget. It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	cache       *responseCache
	metrics     *observability.Metrics
	config      HTTPClientConfig
}

// NewHTTPClient creates a new rate-limited HTTP client. Metrics may be nil.
func NewHTTPClient(cfg HTTPClientConfig, metrics *observability.Metrics) *HTTPClient {
	if cfg.Source == "" {
		cfg.Source = "external"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = int(cfg.RateLimit)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "research-index/1.0"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		cache:       newResponseCache(cfg.CacheSize, cfg.CacheTTL),
		metrics:     metrics,
		config:      cfg,
	}
}

// Get fetches the given URL and returns the response body. Successful
// responses are cached by normalized URL; cache hits bypass the rate
// limiter. Rate-limit responses map to domain.RateLimitError with the
// server's Retry-After honored, server errors to domain.ExternalAPIError.
func (c *HTTPClient) Get(ctx context.Context, rawURL string) ([]byte, error) {
	key := normalizeCacheKey(rawURL)
	if cached, ok := c.cache.get(key); ok {
		if c.metrics != nil {
			c.metrics.RecordSourceCacheHit(c.config.Source)
		}
		return cached.Body, nil
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	endpoint := endpointLabel(rawURL)

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.metrics != nil {
		c.metrics.RecordSourceRequest(c.config.Source, endpoint, time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "transport")
		}
		return nil, domain.NewExternalAPIError(c.config.Source, 0, "request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, domain.NewExternalAPIError(c.config.Source, resp.StatusCode, "failed to read response body", err)
		}
		c.cache.put(key, cachedResponse{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		})
		return body, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewNotFoundError(c.config.Source, rawURL)

	case resp.StatusCode == http.StatusTooManyRequests:
		if c.metrics != nil {
			c.metrics.RecordSourceRateLimited(c.config.Source)
		}
		return nil, domain.NewRateLimitError(c.config.Source, parseRetryAfter(resp))

	default:
		if c.metrics != nil {
			c.metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "status")
		}
		return nil, domain.NewExternalAPIError(c.config.Source, resp.StatusCode,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

// endpointLabel reduces a request URL to its path for metric labels; query
// strings would explode label cardinality.
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Download streams the given URL into w without caching; document payloads
// are too large for the response cache. The caller supplies maxBytes to cap
// the transfer; zero means no cap beyond the server's.
func (c *HTTPClient) Download(ctx context.Context, rawURL string, w io.Writer, maxBytes int64) (int64, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, domain.NewExternalAPIError(c.config.Source, 0, "download failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return 0, domain.NewNotFoundError(c.config.Source, rawURL)
		}
		return 0, domain.NewExternalAPIError(c.config.Source, resp.StatusCode,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := io.Copy(w, reader)
	if err != nil {
		return n, domain.NewExternalAPIError(c.config.Source, resp.StatusCode, "failed to stream document", err)
	}
	if maxBytes > 0 && n > maxBytes {
		return n, domain.NewValidationError("document", "exceeds maximum allowed size")
	}
	return n, nil
}

// parseRetryAfter extracts the server's requested backoff from the
// Retry-After header, supporting both delta-seconds and HTTP-date forms.
func parseRetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return 0
}
