package engine

import (
	"context"
	"sync"

	"github.com/calliope-ai/calliope/internal/domain"
)

// Registry routes operations to per-identity engines by keyed lookup,
// creating them on demand. Unrelated identities never serialize behind
// one another; each engine is its own actor.
type Registry struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	engines map[domain.AgentID]*Engine
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	return &Registry{
		cfg:     cfg,
		deps:    deps,
		engines: make(map[domain.AgentID]*Engine),
	}
}

// Engine returns the actor for the given identity, creating it on first
// use.
func (r *Registry) Engine(agent domain.AgentID) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[agent]; ok {
		return e
	}
	e := New(agent, r.cfg, r.deps)
	r.engines[agent] = e
	return e
}

// TickAll drives every known engine's tick. Engines tick in parallel;
// each serializes internally against its own message handling.
func (r *Registry) TickAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range r.snapshot() {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Tick(ctx)
		}(e)
	}
	wg.Wait()
}

// Shutdown closes every engine's open session.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, e := range r.snapshot() {
		e.Shutdown(ctx)
	}
}

func (r *Registry) snapshot() []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}
