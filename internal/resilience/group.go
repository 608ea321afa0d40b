package resilience

import (
	"context"
	"maps"
	"sync"
)

// Group hands out one [CircuitBreaker] per key, typically per remote host, so
// one failing host does not block fetches from the others.
type Group struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates an empty group. Every breaker it creates uses cfg with
// Name set to its key.
func NewGroup(cfg Config) *Group {
	return &Group{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[key]
	if !ok {
		cfg := g.cfg
		cfg.Name = key
		cb = New(cfg)
		g.breakers[key] = cb
	}
	return cb
}

// Execute runs fn through the breaker for key.
func (g *Group) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	return g.Get(key).Execute(ctx, fn)
}

// States reports the state of every breaker created so far.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	breakers := maps.Clone(g.breakers)
	g.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for k, cb := range breakers {
		out[k] = cb.State()
	}
	return out
}
