package otoaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/MrWong99/narrata/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Clock = (*Clock)(nil)

// Clock is one independent view of the [Device]. Its time base only advances
// while it is running.
type Clock struct {
	dev       *Device
	format    beep.Format
	newPlayer func(io.Reader) player

	mu           sync.Mutex
	state        audio.ClockState
	elapsed      time.Duration // running time accumulated before runningSince
	runningSince time.Time
	sources      map[*Source]struct{}
}

// Now implements [audio.Clock].
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.elapsed
	if c.state == audio.ClockRunning {
		e += time.Since(c.runningSince)
	}
	return e.Seconds()
}

// State implements [audio.Clock].
func (c *Clock) State() audio.ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements [audio.Clock]. It waits for the device to become ready
// and resumes the shared oto context if the platform suspended it.
func (c *Clock) Resume(ctx context.Context) error {
	if c.State() == audio.ClockClosed {
		return fmt.Errorf("otoaudio: resume: clock closed: %w", audio.ErrPlatformUnavailable)
	}
	if err := c.dev.WaitReady(ctx); err != nil {
		return fmt.Errorf("otoaudio: resume: device not ready: %w", err)
	}
	if err := c.dev.ctx.Resume(); err != nil {
		return fmt.Errorf("otoaudio: resume: %w: %w", audio.ErrPlatformUnavailable, err)
	}
	if err := c.dev.ctx.Err(); err != nil {
		return fmt.Errorf("otoaudio: resume: device error: %w: %w", audio.ErrPlatformUnavailable, err)
	}
	return c.run()
}

// run starts the time base and unpauses every registered source.
func (c *Clock) run() error {
	c.mu.Lock()
	switch c.state {
	case audio.ClockClosed:
		c.mu.Unlock()
		return fmt.Errorf("otoaudio: resume: clock closed: %w", audio.ErrPlatformUnavailable)
	case audio.ClockRunning:
		c.mu.Unlock()
		return nil
	}
	c.state = audio.ClockRunning
	c.runningSince = time.Now()
	sources := c.sourcesLocked()
	c.mu.Unlock()

	for _, s := range sources {
		s.unpause()
	}
	return nil
}

// Suspend pauses the clock's time base and every playing source. Sources
// continue where they left off on the next Resume.
func (c *Clock) Suspend() {
	c.mu.Lock()
	if c.state != audio.ClockRunning {
		c.mu.Unlock()
		return
	}
	c.elapsed += time.Since(c.runningSince)
	c.state = audio.ClockSuspended
	sources := c.sourcesLocked()
	c.mu.Unlock()

	for _, s := range sources {
		s.pause()
	}
}

// NewGain implements [audio.Clock].
func (c *Clock) NewGain(v float64) audio.GainStage {
	return newGain(v)
}

// NewSource implements [audio.Clock]. buf must come from [Decode],
// [DecodeFile], [NewBuffer] or this clock's NewSilence.
func (c *Clock) NewSource(buf audio.Buffer, gain audio.GainStage, opts audio.SourceOptions) (audio.Source, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.data == nil {
		return nil, fmt.Errorf("otoaudio: new source: unsupported buffer %T: %w", buf, audio.ErrDecode)
	}
	var g *Gain
	switch v := gain.(type) {
	case nil:
		g = newGain(1)
	case *Gain:
		g = v
	default:
		return nil, fmt.Errorf("otoaudio: new source: foreign gain stage %T", gain)
	}
	rate := opts.Rate
	if rate <= 0 {
		rate = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == audio.ClockClosed {
		return nil, fmt.Errorf("otoaudio: new source: clock closed: %w", audio.ErrPlatformUnavailable)
	}
	s := &Source{
		clock: c,
		buf:   b,
		gain:  g,
		loop:  opts.Loop,
		rate:  rate,
		ended: make(chan struct{}),
		stop:  make(chan struct{}),
	}
	c.sources[s] = struct{}{}
	return s, nil
}

// NewSilence implements [audio.Clock].
func (c *Clock) NewSilence(seconds float64) audio.Buffer {
	f := c.format
	n := f.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	return NewBuffer(beep.Silence(max(n, 1)), f)
}

// Close implements [audio.Clock].
func (c *Clock) Close() error {
	c.mu.Lock()
	if c.state == audio.ClockClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state == audio.ClockRunning {
		c.elapsed += time.Since(c.runningSince)
	}
	c.state = audio.ClockClosed
	sources := c.sourcesLocked()
	c.mu.Unlock()

	var errs []error
	for _, s := range sources {
		if err := audio.StopSource(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// forget drops s from the clock's source set once it is finished.
func (c *Clock) forget(s *Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, s)
}

// sourcesLocked snapshots the live sources. Must be called with c.mu held;
// sources are then driven without it, since they call back into forget.
func (c *Clock) sourcesLocked() []*Source {
	out := make([]*Source, 0, len(c.sources))
	for s := range c.sources {
		out = append(out, s)
	}
	return out
}
