package datacache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// newsFeed pulls recent crypto news headlines (pageSize<=30, TTL 1h).
type newsFeed struct {
	client  *http.Client
	BaseURL string // overridable in tests; empty uses the real endpoint
}

func (f *newsFeed) Name() string { return keyNews }

type newsAPIResponse struct {
	Articles []struct {
		Title  string `json:"title"`
		Source string `json:"source"`
	} `json:"articles"`
}

func (f *newsFeed) Fetch(ctx context.Context) (string, error) {
	url := f.BaseURL
	if url == "" {
		url = "https://api.cryptopanic.com/v1/posts/?public=true&kind=news&pageSize=30"
	}
	var resp newsAPIResponse
	if err := fetchJSON(ctx, f.client, url, &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	limit := len(resp.Articles)
	if limit > 30 {
		limit = 30
	}
	for _, a := range resp.Articles[:limit] {
		b.WriteString(fmt.Sprintf("- %s (%s)\n", a.Title, a.Source))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// tokenMarketFeed pulls token price/volume data (TTL 5 min).
type tokenMarketFeed struct {
	client  *http.Client
	BaseURL string
}

func (f *tokenMarketFeed) Name() string { return keyTokenMarket }

type tokenMarketAPIResponse struct {
	Tokens []struct {
		Symbol       string  `json:"symbol"`
		PriceUSD     float64 `json:"price_usd"`
		ChangePct24h float64 `json:"change_pct_24h"`
	} `json:"tokens"`
}

func (f *tokenMarketFeed) Fetch(ctx context.Context) (string, error) {
	url := f.BaseURL
	if url == "" {
		url = "https://api.coingecko.com/api/v3/coins/markets?vs_currency=usd"
	}
	var resp tokenMarketAPIResponse
	if err := fetchJSON(ctx, f.client, url, &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, tk := range resp.Tokens {
		b.WriteString(fmt.Sprintf("- %s: $%.4f (%+.2f%% 24h)\n", tk.Symbol, tk.PriceUSD, tk.ChangePct24h))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// marketOverviewFeed pulls a global overview with top gainers/losers (TTL 5 min).
type marketOverviewFeed struct {
	client  *http.Client
	BaseURL string
}

func (f *marketOverviewFeed) Name() string { return keyMarketOverview }

type marketOverviewAPIResponse struct {
	TotalMarketCapUSD float64  `json:"total_market_cap_usd"`
	TopGainers        []string `json:"top_gainers"`
	TopLosers         []string `json:"top_losers"`
}

func (f *marketOverviewFeed) Fetch(ctx context.Context) (string, error) {
	url := f.BaseURL
	if url == "" {
		url = "https://api.coingecko.com/api/v3/global"
	}
	var resp marketOverviewAPIResponse
	if err := fetchJSON(ctx, f.client, url, &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Total market cap: $%.0f\n", resp.TotalMarketCapUSD))
	b.WriteString("Top gainers: " + strings.Join(resp.TopGainers, ", ") + "\n")
	b.WriteString("Top losers: " + strings.Join(resp.TopLosers, ", "))
	return b.String(), nil
}

// fearGreedFeed pulls the Fear & Greed Index plus its previous value (TTL 30 min).
type fearGreedFeed struct {
	client  *http.Client
	BaseURL string
}

func (f *fearGreedFeed) Name() string { return keyFearGreed }

type fearGreedAPIResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
	} `json:"data"`
}

func (f *fearGreedFeed) Fetch(ctx context.Context) (string, error) {
	url := f.BaseURL
	if url == "" {
		url = "https://api.alternative.me/fng/?limit=2"
	}
	var resp fearGreedAPIResponse
	if err := fetchJSON(ctx, f.client, url, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("datacache: fear/greed response had no data")
	}
	current := resp.Data[0]
	line := fmt.Sprintf("Current: %s (%s)", current.Value, current.Classification)
	if len(resp.Data) > 1 {
		prev := resp.Data[1]
		line += fmt.Sprintf("\nPrevious: %s (%s)", prev.Value, prev.Classification)
	}
	return line, nil
}
