// Package websearch implements the meta-search client: it queries a
// SearXNG-style aggregator over JSON, caches results in Redis with an
// in-process LRU fallback, and normalizes hits to docstore.SearchResult.
package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"politicalassistant/internal/apperr"
	"politicalassistant/internal/config"
	"politicalassistant/internal/docstore"
)

// Query describes a meta-search request.
type Query struct {
	Text       string
	Categories []string
	Language   string
	SafeSearch int
	TimeRange  string // "", "day", "week", "month", "year"
	MaxResults int
}

// cacheKey is a stable hash of the query+options, used both as the Redis key
// and the LRU key.
func (q Query) cacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s|%d", q.Text, strings.Join(q.Categories, ","), q.Language, q.SafeSearch, q.TimeRange, q.MaxResults)
	return "searxng:" + hex.EncodeToString(h.Sum(nil))
}

func (q Query) isNews() bool {
	for _, c := range q.Categories {
		if strings.EqualFold(c, "news") {
			return true
		}
	}
	return false
}

// searxResponse mirrors the subset of a SearXNG JSON response this client
// consumes.
type searxResponse struct {
	Results []searxResult `json:"results"`
}

type searxResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Engine        string  `json:"engine"`
	Category      string  `json:"category"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"publishedDate"`
}

// Client is the meta-search client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	cacheTTL   time.Duration
	newsTTL    time.Duration

	redis   *redis.Client
	lru     *lru.Cache[string, cachedEntry]
	limiter *rate.Limiter // nil means unlimited
}

type cachedEntry struct {
	results   []docstore.SearchResult
	expiresAt time.Time
}

// New constructs a meta-search Client. redisClient may be nil, in which
// case the client relies solely on its in-process LRU fallback.
func New(cfg config.MetaSearchConfig, cache config.CacheConfig, redisClient *redis.Client) (*Client, error) {
	size := cache.LRUSize
	if size <= 0 {
		size = 1000
	}
	l, err := lru.New[string, cachedEntry](size)
	if err != nil {
		return nil, fmt.Errorf("websearch: building lru cache: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	newsTTL := cfg.NewsTTL
	if newsTTL <= 0 {
		newsTTL = 15 * time.Minute
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		// Burst of 1 keeps the sub-query fanout (up to 8 concurrent
		// searches) from hammering a single SearXNG instance.
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		timeout:    timeout,
		cacheTTL:   cacheTTL,
		newsTTL:    newsTTL,
		redis:      redisClient,
		lru:        l,
		limiter:    limiter,
	}, nil
}

// Search queries the aggregator, consulting the cache first and populating
// it on a fresh fetch.
func (c *Client) Search(ctx context.Context, q Query) ([]docstore.SearchResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, apperr.New(apperr.InvalidInput, "websearch", "empty query text", nil)
	}
	key := q.cacheKey()
	ttl := c.cacheTTL
	if q.isNews() {
		ttl = c.newsTTL
	}

	if hits, ok := c.lookupCache(ctx, key); ok {
		return hits, nil
	}

	hits, err := c.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	c.storeCache(ctx, key, hits, ttl)
	return hits, nil
}

func (c *Client) lookupCache(ctx context.Context, key string) ([]docstore.SearchResult, bool) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			var hits []docstore.SearchResult
			if jsonErr := json.Unmarshal([]byte(val), &hits); jsonErr == nil {
				return hits, true
			}
		}
		// Redis miss or error: fall through to the LRU so a transient Redis
		// outage still benefits from recently seen queries.
	}
	if entry, ok := c.lru.Get(key); ok {
		if time.Now().Before(entry.expiresAt) {
			return entry.results, true
		}
		c.lru.Remove(key)
	}
	return nil, false
}

func (c *Client) storeCache(ctx context.Context, key string, hits []docstore.SearchResult, ttl time.Duration) {
	c.lru.Add(key, cachedEntry{results: hits, expiresAt: time.Now().Add(ttl)})
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(hits)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, ttl).Err()
}

func (c *Client) fetch(ctx context.Context, q Query) ([]docstore.SearchResult, error) {
	if c.baseURL == "" {
		return nil, apperr.New(apperr.Permanent, "websearch", "no meta-search endpoint configured", nil)
	}
	endpoint, err := url.Parse(strings.TrimRight(c.baseURL, "/") + "/search")
	if err != nil {
		return nil, apperr.New(apperr.Permanent, "websearch", "malformed base url", err)
	}
	v := url.Values{}
	v.Set("q", q.Text)
	v.Set("format", "json")
	if len(q.Categories) > 0 {
		v.Set("categories", strings.Join(q.Categories, ","))
	}
	if q.Language != "" {
		v.Set("language", q.Language)
	}
	if q.SafeSearch >= 0 {
		v.Set("safesearch", strconv.Itoa(q.SafeSearch))
	}
	if q.TimeRange != "" {
		v.Set("time_range", q.TimeRange)
	}
	endpoint.RawQuery = v.Encode()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.New(apperr.Cancelled, "websearch", "rate limiter wait cancelled", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, apperr.New(apperr.Permanent, "websearch", "request construction failed", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, apperr.New(apperr.Transient, "websearch", "timeout querying meta-search backend", err)
		}
		return nil, apperr.New(apperr.Transient, "websearch", "meta-search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.Transient, "websearch", fmt.Sprintf("meta-search backend returned status %d", resp.StatusCode), nil)
	}

	var parsed searxResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&parsed); err != nil {
		return nil, apperr.New(apperr.Permanent, "websearch", "non-json or malformed meta-search payload", err)
	}

	limit := q.MaxResults
	if limit <= 0 {
		limit = 10
	}
	out := make([]docstore.SearchResult, 0, limit)
	for i, r := range parsed.Results {
		if i >= limit {
			break
		}
		if r.URL == "" {
			continue
		}
		out = append(out, docstore.SearchResult{
			Rank:          i + 1,
			Title:         r.Title,
			URL:           r.URL,
			Snippet:       r.Content,
			Domain:        domainOf(r.URL),
			Engine:        r.Engine,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
			Category:      r.Category,
		})
	}
	return out, nil
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
