// Package settings wraps the store's systemSettings key-value table with a
// short TTL cache, so hot paths (bus delay lookup, router strategy choice,
// scheduler loop interval) can read runtime-tunable values without hitting
// the database on every call.
//
// Grounded on internal/quota.Manager's cache-aside use of
// patrickmn/go-cache — the same package, the same read-through/write-through
// shape, applied to a different table.
package settings

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agentcore/orchestrator/internal/store"
)

// Well-known setting keys. Absent keys fall back to the caller-supplied
// default — nothing here is required to be present in systemSettings.
const (
	KeyRoutingStrategy = "llm.routing_strategy"
	KeyEnableFallback  = "llm.enable_fallback"

	KeyDelayCritical    = "queue.delay_critical"
	KeyDelayUrgent      = "queue.delay_urgent"
	KeyDelayHigh        = "queue.delay_high"
	KeyDelayNormal      = "queue.delay_normal"
	KeyDelayLow         = "queue.delay_low"
	KeyDelayOperational = "queue.delay_operational"
)

// maxCacheTTL bounds the cache so changes are never stale for more than a
// minute.
const maxCacheTTL = 60 * time.Second

// Reader provides TTL-cached reads over the store's systemSettings table.
type Reader struct {
	store *store.Store
	cache *gocache.Cache
}

// NewReader builds a Reader. ttl is clamped to maxCacheTTL; ttl<=0 uses it.
func NewReader(s *store.Store, ttl time.Duration) *Reader {
	if ttl <= 0 || ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	return &Reader{
		store: s,
		cache: gocache.New(ttl, ttl*2),
	}
}

// Get returns the setting's raw string value, or def if unset.
func (r *Reader) Get(ctx context.Context, key, def string) string {
	if v, ok := r.cache.Get(key); ok {
		return v.(string)
	}
	val, err := r.store.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	r.cache.SetDefault(key, val)
	return val
}

// GetBool parses the setting as a bool, falling back to def on absence or
// parse failure.
func (r *Reader) GetBool(ctx context.Context, key string, def bool) bool {
	raw := r.Get(ctx, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// GetInt parses the setting as an int, falling back to def on absence or
// parse failure.
func (r *Reader) GetInt(ctx context.Context, key string, def int) int {
	raw := r.Get(ctx, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Set writes through to the store and invalidates the cached entry so the
// next Get observes the new value immediately instead of waiting out the TTL.
func (r *Reader) Set(ctx context.Context, key, value string) error {
	if err := r.store.SetSetting(ctx, key, value); err != nil {
		return err
	}
	r.cache.Delete(key)
	return nil
}

// Invalidate drops a cached entry without touching the store, used after an
// external reload event (e.g. config.Watcher firing).
func (r *Reader) Invalidate(key string) {
	r.cache.Delete(key)
}
