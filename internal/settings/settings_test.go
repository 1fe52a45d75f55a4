package settings

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/orchestrator/internal/bus"
	"github.com/agentcore/orchestrator/internal/store"
)

func newTestReader(t *testing.T) (*Reader, *store.Store) {
	t.Helper()
	b := bus.New()
	s, err := store.Open(":memory:", b)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewReader(s, 200*time.Millisecond), s
}

func TestGet_ReturnsDefaultWhenUnset(t *testing.T) {
	r, _ := newTestReader(t)
	if v := r.Get(context.Background(), "missing.key", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
}

func TestGet_ReturnsStoredValue(t *testing.T) {
	r, s := newTestReader(t)
	if err := s.SetSetting(context.Background(), KeyRoutingStrategy, "load-balance"); err != nil {
		t.Fatal(err)
	}
	if v := r.Get(context.Background(), KeyRoutingStrategy, "task-type"); v != "load-balance" {
		t.Fatalf("expected load-balance, got %q", v)
	}
}

func TestGet_CachesUntilInvalidated(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()
	if err := s.SetSetting(ctx, KeyEnableFallback, "true"); err != nil {
		t.Fatal(err)
	}
	if v := r.GetBool(ctx, KeyEnableFallback, false); !v {
		t.Fatal("expected true from store")
	}

	if err := s.SetSetting(ctx, KeyEnableFallback, "false"); err != nil {
		t.Fatal(err)
	}
	if v := r.GetBool(ctx, KeyEnableFallback, true); !v {
		t.Fatal("expected cached true value to still be served before TTL expiry")
	}

	r.Invalidate(KeyEnableFallback)
	if v := r.GetBool(ctx, KeyEnableFallback, true); v {
		t.Fatal("expected invalidation to force a fresh read returning false")
	}
}

func TestSet_WritesThroughAndInvalidatesCache(t *testing.T) {
	r, _ := newTestReader(t)
	ctx := context.Background()
	if err := r.Set(ctx, KeyDelayNormal, "60000"); err != nil {
		t.Fatal(err)
	}
	if v := r.GetInt(ctx, KeyDelayNormal, 0); v != 60000 {
		t.Fatalf("expected 60000, got %d", v)
	}
}

func TestGetInt_FallsBackOnParseFailure(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()
	if err := s.SetSetting(ctx, KeyDelayHigh, "not-a-number"); err != nil {
		t.Fatal(err)
	}
	if v := r.GetInt(ctx, KeyDelayHigh, 30000); v != 30000 {
		t.Fatalf("expected fallback default, got %d", v)
	}
}
