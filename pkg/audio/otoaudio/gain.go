package otoaudio

import (
	"sync"

	"github.com/MrWong99/narrata/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.GainStage = (*Gain)(nil)

// Gain scales every oto player attached to it. A gain stage may be shared
// by several sources, which is how the voice volume survives source
// recreation on seek.
type Gain struct {
	mu      sync.Mutex
	value   float64
	players map[player]struct{}
}

func newGain(v float64) *Gain {
	return &Gain{value: clampGain(v), players: make(map[player]struct{})}
}

// SetGain implements [audio.GainStage]. Values are clamped to [0, 1].
func (g *Gain) SetGain(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = clampGain(v)
	for p := range g.players {
		p.SetVolume(g.value)
	}
}

// Gain implements [audio.GainStage].
func (g *Gain) Gain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *Gain) attach(p player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.SetVolume(g.value)
	g.players[p] = struct{}{}
}

func (g *Gain) detach(p player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.players, p)
}

func clampGain(v float64) float64 {
	return min(max(v, 0), 1)
}
