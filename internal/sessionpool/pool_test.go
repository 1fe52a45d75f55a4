package sessionpool

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestPool_GetSession_ReusesHealthySession(t *testing.T) {
	var builds atomic.Int64
	factory := func(ctx context.Context, agentType string) (Adapter, error) {
		builds.Add(1)
		return &fakeAdapter{available: true}, nil
	}
	p := NewPool(factory, 10, true)

	s1, err := p.GetSession(context.Background(), "ceo")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := p.GetSession(context.Background(), "ceo")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("expected the same session to be reused")
	}
	if builds.Load() != 1 {
		t.Fatalf("expected exactly one adapter build, got %d", builds.Load())
	}
}

func TestPool_GetSession_RecyclesAtMaxLoops(t *testing.T) {
	factory := func(ctx context.Context, agentType string) (Adapter, error) {
		return &fakeAdapter{available: true}, nil
	}
	p := NewPool(factory, 2, true)

	s1, _ := p.GetSession(context.Background(), "cmo")
	_, _ = s1.SendMessage(context.Background(), "p", "1", 0)
	_, _ = s1.SendMessage(context.Background(), "p", "2", 0)

	s2, err := p.GetSession(context.Background(), "cmo")
	if err != nil {
		t.Fatal(err)
	}
	if s1 == s2 {
		t.Fatal("expected a fresh session after maxLoops reached")
	}
	if s2.ID == s1.ID {
		t.Fatal("expected distinct session id after recycle")
	}
}

func TestPool_SendMessage_DisabledBypassesSessionReuse(t *testing.T) {
	var builds atomic.Int64
	factory := func(ctx context.Context, agentType string) (Adapter, error) {
		builds.Add(1)
		return &fakeAdapter{available: true}, nil
	}
	p := NewPool(factory, 10, false)

	for i := 0; i < 3; i++ {
		if _, err := p.SendMessage(context.Background(), "cco", "profile", "prompt", 0); err != nil {
			t.Fatal(err)
		}
	}
	if builds.Load() != 3 {
		t.Fatalf("expected one-shot mode to build a fresh adapter per call, got %d", builds.Load())
	}
}
