// Package datacache maintains four independently-refreshed market data
// feeds behind a shared in-process cache, so a deliberation loop can
// always render a data context block without ever blocking on a slow or
// failing upstream fetch.
//
// Grounded on internal/config's patrickmn/go-cache usage for TTL'd reads,
// and on a plain net/http JSON-fetch style seen elsewhere in this
// codebase's source-fetching code (internal/tasks/sources.go-style
// polling) — no market-data fetcher existed to copy directly, so the
// fetch plumbing here is new but follows that same plain net/http idiom
// rather than reaching for an HTTP client library nothing else uses.
package datacache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	keyNews            = "news"
	keyTokenMarket     = "token_market"
	keyMarketOverview  = "market_overview"
	keyFearGreed       = "fear_greed"

	ttlNews           = time.Hour
	ttlTokenMarket    = 5 * time.Minute
	ttlMarketOverview = 5 * time.Minute
	ttlFearGreed      = 30 * time.Minute
)

// Feed fetches one data slot and renders it as a markdown section.
type Feed interface {
	Name() string
	Fetch(ctx context.Context) (markdown string, err error)
}

// Cache owns the background refresh tickers and the rendered-markdown
// cache for all four feeds. A background refresh never blocks an agent
// loop: buildDataContext always reads whatever is currently cached.
type Cache struct {
	c      *gocache.Cache
	feeds  map[string]Feed
	ttls   map[string]time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// New builds a Cache with the four well-known feeds wired to their TTLs.
// httpClient is shared across feeds; a zero-value *http.Client{} is fine.
func New(httpClient *http.Client, logger *slog.Logger) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	feeds := map[string]Feed{
		keyNews:           &newsFeed{client: httpClient},
		keyTokenMarket:    &tokenMarketFeed{client: httpClient},
		keyMarketOverview: &marketOverviewFeed{client: httpClient},
		keyFearGreed:      &fearGreedFeed{client: httpClient},
	}
	ttls := map[string]time.Duration{
		keyNews:           ttlNews,
		keyTokenMarket:    ttlTokenMarket,
		keyMarketOverview: ttlMarketOverview,
		keyFearGreed:      ttlFearGreed,
	}
	return &Cache{
		c:      gocache.New(gocache.NoExpiration, time.Minute),
		feeds:  feeds,
		ttls:   ttls,
		logger: logger,
	}
}

// Start launches one refresh ticker per feed. Each feed refreshes
// independently on its own TTL-derived period, so a stuck feed can never
// delay another. Call the returned stop func (or cancel ctx) to halt all
// tickers.
func (c *Cache) Start(ctx context.Context) {
	for key, feed := range c.feeds {
		feedCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancels = append(c.cancels, cancel)
		c.mu.Unlock()
		go c.runFeed(feedCtx, key, feed, c.ttls[key])
	}
}

// Stop cancels every feed's refresh loop.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

func (c *Cache) runFeed(ctx context.Context, key string, feed Feed, ttl time.Duration) {
	c.refreshOnce(ctx, key, feed, ttl)
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshOnce(ctx, key, feed, ttl)
		}
	}
}

// refreshOnce fetches one feed. 4xx/5xx/timeouts are logged and leave the
// previous cache value in place.
func (c *Cache) refreshOnce(ctx context.Context, key string, feed Feed, ttl time.Duration) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	markdown, err := feed.Fetch(fetchCtx)
	if err != nil {
		c.logger.Warn("datacache: feed refresh failed, keeping stale value", "feed", key, "error", err)
		return
	}
	c.c.Set(key, markdown, ttl)
}

// buildDataContext composes a stable markdown block from whichever feeds
// are currently fresh; a missing or expired feed renders its sentinel line
// instead of being omitted silently.
func (c *Cache) BuildDataContext() string {
	sections := []struct {
		key      string
		title    string
		sentinel string
	}{
		{keyNews, "Crypto News", "Market data unavailable"},
		{keyTokenMarket, "Token Market Data", "Market data unavailable"},
		{keyMarketOverview, "Market Overview", "Market data unavailable"},
		{keyFearGreed, "Fear & Greed Index", "Market data unavailable"},
	}

	var b strings.Builder
	for _, s := range sections {
		b.WriteString("## ")
		b.WriteString(s.title)
		b.WriteString("\n")
		if v, ok := c.c.Get(s.key); ok {
			if md, ok := v.(string); ok && md != "" {
				b.WriteString(md)
				b.WriteString("\n\n")
				continue
			}
		}
		b.WriteString(s.sentinel)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("datacache: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("datacache: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("datacache: %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
