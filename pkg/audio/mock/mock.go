// Package mock provides in-memory implementations of the [audio.Clock],
// [audio.Source] and [audio.GainStage] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on arguments, and expose exported fields that control return values.
// The clock never advances on its own; tests move it with [Clock.Advance].
//
// Typical usage:
//
//	clk := mock.NewClock()
//	buf := &mock.Buffer{Seconds: 30}
//	src, _ := clk.NewSource(buf, clk.NewGain(1), audio.SourceOptions{})
//	_ = src.Start(0)
//	clk.Advance(30)
//	clk.LastSource().Finish() // natural end of stream
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/narrata/pkg/audio"
)

// ─── Buffer ───────────────────────────────────────────────────────────────────

// Buffer is a mock [audio.Buffer] with a fixed duration.
type Buffer struct {
	Seconds float64
}

// Duration implements [audio.Buffer].
func (b *Buffer) Duration() float64 { return b.Seconds }

// ─── Gain ─────────────────────────────────────────────────────────────────────

// Gain is a mock [audio.GainStage]. SetCalls records every SetGain value.
type Gain struct {
	mu       sync.Mutex
	value    float64
	SetCalls []float64
}

// SetGain implements [audio.GainStage].
func (g *Gain) SetGain(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
	g.SetCalls = append(g.SetCalls, v)
}

// Gain implements [audio.GainStage].
func (g *Gain) Gain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source].
type Source struct {
	mu sync.Mutex

	// Buffer and Gain are the arguments given to [Clock.NewSource].
	Buffer audio.Buffer
	Gain   audio.GainStage

	// Loop reports whether the source was created looping.
	Loop bool

	// StartError is returned by Start.
	StartError error

	// StartOffsets records every Start offset.
	StartOffsets []float64

	// RateCalls records every SetRate value, starting with the creation rate.
	RateCalls []float64

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	started  bool
	finished bool
	ended    chan struct{}
}

// Start implements [audio.Source].
func (s *Source) Start(offset float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartOffsets = append(s.StartOffsets, offset)
	if s.StartError != nil {
		return s.StartError
	}
	s.started = true
	return nil
}

// Stop implements [audio.Source]. The first call closes Ended; later calls
// return [audio.ErrAlreadyStopped].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.finished {
		return audio.ErrAlreadyStopped
	}
	s.finishLocked()
	return nil
}

// SetRate implements [audio.Source].
func (s *Source) SetRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RateCalls = append(s.RateCalls, rate)
}

// Rate returns the most recent rate, or 1 if none was set.
func (s *Source) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.RateCalls) == 0 {
		return 1
	}
	return s.RateCalls[len(s.RateCalls)-1]
}

// Ended implements [audio.Source].
func (s *Source) Ended() <-chan struct{} { return s.ended }

// Finish simulates the source reaching the end of its buffer. It is a no-op
// if the source already finished.
func (s *Source) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finishLocked()
	}
}

// Started reports whether Start succeeded.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stopped reports whether the source has ended or been stopped.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Source) finishLocked() {
	s.finished = true
	close(s.ended)
}

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a mock [audio.Clock] driven manually by the test.
type Clock struct {
	mu sync.Mutex

	now   float64
	state audio.ClockState

	// ResumeError is returned by Resume. When nil, Resume moves the clock
	// to running unless it is closed.
	ResumeError error

	// IgnoreResume keeps Resume from taking effect, emulating a platform that
	// accepts the call but does not start.
	IgnoreResume bool

	// NewSourceError is returned by NewSource.
	NewSourceError error

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Sources records every source created, in order.
	Sources []*Source

	// Gains records every gain stage created, in order.
	Gains []*Gain

	// SilenceRequests records the lengths passed to NewSilence.
	SilenceRequests []float64
}

// NewClock returns a running clock at time zero.
func NewClock() *Clock {
	return &Clock{state: audio.ClockRunning}
}

// NewSuspendedClock returns a suspended clock at time zero.
func NewSuspendedClock() *Clock {
	return &Clock{state: audio.ClockSuspended}
}

// Advance moves the clock forward by seconds if it is running.
func (c *Clock) Advance(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == audio.ClockRunning {
		c.now += seconds
	}
}

// SetState forces the clock into state.
func (c *Clock) SetState(state audio.ClockState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// LastSource returns the most recently created source, or nil.
func (c *Clock) LastSource() *Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sources) == 0 {
		return nil
	}
	return c.Sources[len(c.Sources)-1]
}

// SourceCount returns the number of sources created so far.
func (c *Clock) SourceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sources)
}

// Now implements [audio.Clock].
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// State implements [audio.Clock].
func (c *Clock) State() audio.ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements [audio.Clock].
func (c *Clock) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountResume++
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ResumeError != nil {
		return c.ResumeError
	}
	if c.state == audio.ClockClosed {
		return fmt.Errorf("mock clock: resume closed clock: %w", audio.ErrPlatformUnavailable)
	}
	if !c.IgnoreResume {
		c.state = audio.ClockRunning
	}
	return nil
}

// NewGain implements [audio.Clock].
func (c *Clock) NewGain(v float64) audio.GainStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := &Gain{value: v}
	c.Gains = append(c.Gains, g)
	return g
}

// NewSource implements [audio.Clock].
func (c *Clock) NewSource(buf audio.Buffer, gain audio.GainStage, opts audio.SourceOptions) (audio.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NewSourceError != nil {
		return nil, c.NewSourceError
	}
	if buf == nil {
		return nil, fmt.Errorf("mock clock: nil buffer: %w", audio.ErrDecode)
	}
	rate := opts.Rate
	if rate == 0 {
		rate = 1
	}
	s := &Source{
		Buffer:    buf,
		Gain:      gain,
		Loop:      opts.Loop,
		RateCalls: []float64{rate},
		ended:     make(chan struct{}),
	}
	c.Sources = append(c.Sources, s)
	return s, nil
}

// NewSilence implements [audio.Clock].
func (c *Clock) NewSilence(seconds float64) audio.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SilenceRequests = append(c.SilenceRequests, seconds)
	return &Buffer{Seconds: seconds}
}

// Close implements [audio.Clock]. Every source created so far is stopped.
func (c *Clock) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	c.state = audio.ClockClosed
	sources := make([]*Source, len(c.Sources))
	copy(sources, c.Sources)
	c.mu.Unlock()

	for _, s := range sources {
		_ = audio.StopSource(s)
	}
	return nil
}
