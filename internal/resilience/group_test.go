package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroup_IsolatesKeys(t *testing.T) {
	t.Parallel()

	g := NewGroup(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	_ = g.Execute(ctx, "cdn.example.com", fail)
	if err := g.Execute(ctx, "cdn.example.com", succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("failing host: err = %v, want ErrCircuitOpen", err)
	}
	if err := g.Execute(ctx, "mirror.example.com", succeed); err != nil {
		t.Fatalf("healthy host: err = %v", err)
	}

	states := g.States()
	if states["cdn.example.com"] != StateOpen || states["mirror.example.com"] != StateClosed {
		t.Fatalf("States() = %v", states)
	}
}

func TestGroup_GetReturnsSameBreaker(t *testing.T) {
	t.Parallel()

	g := NewGroup(Config{})
	if g.Get("a") != g.Get("a") {
		t.Fatal("Get returned different breakers for the same key")
	}
	if g.Get("a").name != "a" {
		t.Errorf("breaker name = %q, want the key", g.Get("a").name)
	}
}
