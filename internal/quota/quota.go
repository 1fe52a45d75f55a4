// Package quota tracks per-provider token/request usage against configured
// monthly budgets, publishing threshold warnings on the bus and answering
// hasAvailableQuota checks for the router.
//
// Grounded on internal/pricing's cost table for cost estimation and on a
// rolling-counter aggregation style (atomic upserts keyed by a time
// window) common across this codebase's other usage-tracking code; the
// bucket shape and threshold table here are new, built in that idiom.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/pricing"
	"github.com/agentcore/orchestrator/internal/store"
)

const (
	windowMonthly = "monthly"
	window5h      = "5h"
	window7d      = "7d"

	cacheTTL = 5 * time.Minute
)

// WarningLevel is the severity of a quota threshold crossing.
type WarningLevel string

const (
	LevelInfo     WarningLevel = "info"
	LevelWarning  WarningLevel = "warning"
	LevelCritical WarningLevel = "critical"
)

// QuotaWarning is the payload published on channel:quota:warning.
type QuotaWarning struct {
	Provider   string       `json:"provider"`
	Level      WarningLevel `json:"level"`
	UsedTokens int64        `json:"used_tokens"`
	Quota      int64        `json:"quota"`
	Fraction   float64      `json:"fraction"`
}

// ProviderQuotaView is the combined usage view returned by GetProviderQuota.
// Claude additionally reports its rolling session-window counters.
type ProviderQuotaView struct {
	Provider     string
	Monthly      store.QuotaBucket
	MonthlyQuota int64 // 0 means unset (no limit enforced)
	FiveHour     *store.QuotaBucket
	SevenDay     *store.QuotaBucket
}

// Manager owns per-provider usage accounting. One Manager is shared across
// all agent loops and the router.
type Manager struct {
	store        *store.Store
	bus          *bus.Bus
	monthlyQuota map[string]int64 // provider -> token budget; absent disables warnings
	cache        *gocache.Cache
	logger       *slog.Logger
}

// NewManager builds a Manager. monthlyQuota is read from config
// (systemSettings / env); a provider absent from the map has quota
// enforcement and warnings disabled.
func NewManager(s *store.Store, b *bus.Bus, monthlyQuota map[string]int64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        s,
		bus:          b,
		monthlyQuota: monthlyQuota,
		cache:        gocache.New(cacheTTL, cacheTTL*2),
		logger:       logger,
	}
}

// RecordUsage atomically updates the current-month counter and, for the
// Claude provider, the rolling 5h/7d counters. Store failures are logged
// and absorbed: usage accounting never cancels an otherwise successful LLM
// call.
func (m *Manager) RecordUsage(ctx context.Context, provider string, inputTokens, outputTokens, durationMs int64, success bool) {
	now := time.Now().UTC()
	model := pricing.ModelFor(provider, pricing.ComplexityNormal)
	cost := pricing.EstimateCost(model, inputTokens, outputTokens)

	if err := m.store.RecordUsage(ctx, provider, windowMonthly, truncateMonth(now), inputTokens, outputTokens, cost); err != nil {
		m.logger.Warn("quota: failed to record monthly usage", "provider", provider, "error", err)
	} else {
		m.cache.Delete(cacheKey(provider, windowMonthly, truncateMonth(now)))
	}

	if provider == "claude" {
		if err := m.store.RecordUsage(ctx, provider, window5h, truncate5h(now), inputTokens, outputTokens, cost); err != nil {
			m.logger.Warn("quota: failed to record 5h usage", "provider", provider, "error", err)
		} else {
			m.cache.Delete(cacheKey(provider, window5h, truncate5h(now)))
		}
		if err := m.store.RecordUsage(ctx, provider, window7d, truncate7d(now), inputTokens, outputTokens, cost); err != nil {
			m.logger.Warn("quota: failed to record 7d usage", "provider", provider, "error", err)
		} else {
			m.cache.Delete(cacheKey(provider, window7d, truncate7d(now)))
		}
	}

	m.evaluateThreshold(ctx, provider, now)
}

// evaluateThreshold re-reads the current-month bucket and publishes a
// channel:quota:warning event if usage has crossed a threshold.
func (m *Manager) evaluateThreshold(ctx context.Context, provider string, now time.Time) {
	quota, ok := m.monthlyQuota[provider]
	if !ok || quota <= 0 {
		return
	}
	bucket, err := m.getUsage(ctx, provider, windowMonthly, truncateMonth(now))
	if err != nil {
		return
	}
	used := bucket.PromptTokens + bucket.CompletionTokens
	fraction := float64(used) / float64(quota)

	var level WarningLevel
	switch {
	case fraction >= 0.95:
		level = LevelCritical
	case fraction >= 0.80:
		level = LevelWarning
	case fraction >= 0.50:
		level = LevelInfo
	default:
		return
	}

	m.bus.Publish("channel:quota:warning", QuotaWarning{
		Provider:   provider,
		Level:      level,
		UsedTokens: used,
		Quota:      quota,
		Fraction:   fraction,
	})
}

// HasAvailableQuota returns true if provider has no monthly quota
// configured, or (monthly - used) >= estimatedTokens.
func (m *Manager) HasAvailableQuota(ctx context.Context, provider string, estimatedTokens int64) (bool, error) {
	quota, ok := m.monthlyQuota[provider]
	if !ok || quota <= 0 {
		return true, nil
	}
	bucket, err := m.getUsage(ctx, provider, windowMonthly, truncateMonth(time.Now().UTC()))
	if err != nil {
		return false, err
	}
	used := bucket.PromptTokens + bucket.CompletionTokens
	return quota-used >= estimatedTokens, nil
}

// GetProviderQuota returns a combined usage view for provider. Claude
// additionally reports its rolling 5h/7d session-window counters.
func (m *Manager) GetProviderQuota(ctx context.Context, provider string) (ProviderQuotaView, error) {
	now := time.Now().UTC()
	monthly, err := m.getUsage(ctx, provider, windowMonthly, truncateMonth(now))
	if err != nil {
		return ProviderQuotaView{}, fmt.Errorf("quota: monthly usage for %s: %w", provider, err)
	}
	view := ProviderQuotaView{
		Provider:     provider,
		Monthly:      monthly,
		MonthlyQuota: m.monthlyQuota[provider],
	}
	if provider == "claude" {
		if fh, err := m.getUsage(ctx, provider, window5h, truncate5h(now)); err == nil {
			view.FiveHour = &fh
		}
		if sd, err := m.getUsage(ctx, provider, window7d, truncate7d(now)); err == nil {
			view.SevenDay = &sd
		}
	}
	return view, nil
}

// getUsage is a cache-aside read over the durable store: a 5-minute
// in-memory cache sits in front of GetUsage, invalidated by RecordUsage.
func (m *Manager) getUsage(ctx context.Context, provider, windowKind string, windowStart time.Time) (store.QuotaBucket, error) {
	key := cacheKey(provider, windowKind, windowStart)
	if cached, ok := m.cache.Get(key); ok {
		return cached.(store.QuotaBucket), nil
	}
	bucket, err := m.store.GetUsage(ctx, provider, windowKind, windowStart)
	if err != nil {
		return store.QuotaBucket{}, err
	}
	m.cache.Set(key, bucket, cacheTTL)
	return bucket, nil
}

func cacheKey(provider, windowKind string, windowStart time.Time) string {
	return provider + "|" + windowKind + "|" + windowStart.Format(time.RFC3339)
}

func truncateMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func truncate5h(t time.Time) time.Time {
	epoch := t.Truncate(5 * time.Hour)
	return epoch
}

func truncate7d(t time.Time) time.Time {
	// Truncate to a 7-day boundary anchored at the Unix epoch (a fixed
	// reference so windows are stable across restarts).
	days := t.Unix() / int64((7 * 24 * time.Hour).Seconds())
	return time.Unix(days*int64((7*24*time.Hour).Seconds()), 0).UTC()
}
