package sessionpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AdapterFactory constructs a fresh Adapter for an agent type, used each
// time the pool needs to (re)create a session.
type AdapterFactory func(ctx context.Context, agentType string) (Adapter, error)

// Pool owns at most one Session per agent type. When
// disabled (SESSION_POOL_ENABLED=false) it bypasses session reuse
// entirely and sends the full profile on every call.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  AdapterFactory
	maxLoops int
	enabled  bool
}

// NewPool creates a Pool. maxLoops is the session recycle threshold
//; enabled corresponds to SESSION_POOL_ENABLED.
func NewPool(factory AdapterFactory, maxLoops int, enabled bool) *Pool {
	return &Pool{
		sessions: make(map[string]*Session),
		factory:  factory,
		maxLoops: maxLoops,
		enabled:  enabled,
	}
}

// GetSession returns the existing healthy session for agentType or
// synchronously constructs one, disposing any session that has become
// due for recycling first.
func (p *Pool) GetSession(ctx context.Context, agentType string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.sessions[agentType]; ok {
		if !existing.ShouldRecycle() {
			return existing, nil
		}
		existing.Stop()
		delete(p.sessions, agentType)
	}

	adapter, err := p.factory(ctx, agentType)
	if err != nil {
		return nil, fmt.Errorf("sessionpool: adapter factory for %q: %w", agentType, err)
	}
	s := newSession(uuid.NewString(), agentType, adapter, p.maxLoops)
	p.sessions[agentType] = s
	return s, nil
}

// SendMessage runs one deliberation turn for agentType. When the pool is
// disabled, it bypasses session reuse: a fresh adapter is constructed and
// the full profile is sent on every call.
func (p *Pool) SendMessage(ctx context.Context, agentType, profile, prompt string, timeoutSeconds int) (string, error) {
	timeout := time.Duration(timeoutSeconds) * time.Second

	if !p.enabled {
		adapter, err := p.factory(ctx, agentType)
		if err != nil {
			return "", fmt.Errorf("sessionpool: adapter factory for %q: %w", agentType, err)
		}
		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		reply, _, err := adapter.Generate(runCtx, profile, prompt)
		return reply, err
	}

	session, err := p.GetSession(ctx, agentType)
	if err != nil {
		return "", err
	}
	return session.SendMessage(ctx, profile, prompt, timeout)
}

// StopAll recycles every held session, used on shutdown.
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.sessions {
		s.Stop()
		delete(p.sessions, id)
	}
}
