package sources

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Response cache TTL bounds. A zero TTL disables caching; anything above
// the ceiling is clamped so stale bibliographic data cannot outlive a day.
const (
	defaultCacheTTL = 6 * time.Hour
	maxCacheTTL     = 24 * time.Hour
	defaultCacheCap = 512
)

// cachedResponse holds a successful response body for replay within the TTL.
type cachedResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// responseCache is an in-memory TTL cache of successful GET responses keyed
// by normalized URL. It is safe for concurrent use.
type responseCache struct {
	lru *expirable.LRU[string, cachedResponse]
}

func newResponseCache(size int, ttl time.Duration) *responseCache {
	if ttl <= 0 {
		return &responseCache{}
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	if size <= 0 {
		size = defaultCacheCap
	}
	return &responseCache{
		lru: expirable.NewLRU[string, cachedResponse](size, nil, ttl),
	}
}

func (c *responseCache) get(key string) (cachedResponse, bool) {
	if c.lru == nil {
		return cachedResponse{}, false
	}
	return c.lru.Get(key)
}

func (c *responseCache) put(key string, resp cachedResponse) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, resp)
}

// normalizeCacheKey canonicalizes a request URL so equivalent requests share
// one cache entry: lower-cased scheme and host, sorted query parameters, no
// fragment.
func normalizeCacheKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()
	return u.String()
}
