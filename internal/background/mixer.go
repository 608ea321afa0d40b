package background

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/audio/unlock"
)

// Loader turns a track into a decoded buffer.
type Loader interface {
	Load(ctx context.Context, track Track) (audio.Buffer, error)
}

// Mixer plays at most one looped background track.
//
// All exported methods are safe for concurrent use.
type Mixer struct {
	clock   audio.Clock
	loader  Loader
	metrics *observe.Metrics
	grace   time.Duration

	mu      sync.Mutex
	gain    audio.GainStage
	volume  float64
	source  audio.Source
	current Track
	gen     uint64 // bumped by every Start and Stop
}

// MixerOption configures a [Mixer].
type MixerOption func(*Mixer)

// WithVolume sets the initial background volume.
func WithVolume(v float64) MixerOption {
	return func(m *Mixer) { m.volume = clampVolume(v) }
}

// WithMetrics records to met instead of [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) MixerOption {
	return func(m *Mixer) { m.metrics = met }
}

// WithReadyGrace sets the settle time after resuming the mixer's clock.
func WithReadyGrace(d time.Duration) MixerOption {
	return func(m *Mixer) { m.grace = d }
}

// NewMixer creates a Mixer playing on clock. The mixer takes ownership of
// clock and closes it in [Mixer.Close].
func NewMixer(clock audio.Clock, loader Loader, opts ...MixerOption) *Mixer {
	m := &Mixer{
		clock:  clock,
		loader: loader,
		grace:  unlock.DefaultGrace,
		volume: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Start replaces the current background with track, looping from the
// beginning. The "none" track does nothing.
//
// A track that cannot be fetched or decoded fails with an error wrapping
// [audio.ErrBackgroundLoad]; a clock that will not start, or a source that
// will not play, fails with [audio.ErrPlayBlocked]. Either way the previous
// track has already been stopped.
func (m *Mixer) Start(ctx context.Context, track Track) error {
	if track.IsNone() {
		observe.Logger(ctx).Debug("background: no track selected", "id", track.ID)
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "background.Start")
	defer span.End()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.stopLocked()
	m.mu.Unlock()

	buf, err := m.loader.Load(ctx, track)
	if err != nil {
		return m.fail(ctx, track, "load", fmt.Errorf("background: load %q: %w: %w", track.ID, audio.ErrBackgroundLoad, err))
	}

	ok, err := unlock.EnsureResumed(ctx, m.clock, m.grace)
	if err == nil && !ok {
		err = errors.New("clock did not start")
	}
	if err != nil {
		return m.fail(ctx, track, "play_blocked", fmt.Errorf("background: start %q: %w: %w", track.ID, audio.ErrPlayBlocked, err))
	}

	m.mu.Lock()
	if gen != m.gen {
		// A later Start or Stop won.
		m.mu.Unlock()
		return nil
	}
	if m.gain == nil {
		m.gain = m.clock.NewGain(m.volume)
	}
	src, err := m.clock.NewSource(buf, m.gain, audio.SourceOptions{Rate: 1, Loop: true})
	if err == nil {
		if err = src.Start(0); err != nil {
			_ = audio.StopSource(src)
		}
	}
	if err != nil {
		m.mu.Unlock()
		return m.fail(ctx, track, "play_blocked", fmt.Errorf("background: play %q: %w: %w", track.ID, audio.ErrPlayBlocked, err))
	}
	m.source = src
	m.current = track
	m.mu.Unlock()

	m.metrics.RecordBackgroundStart(ctx, track.Category)
	observe.Logger(ctx).Info("background started", "id", track.ID, "category", track.Category)
	return nil
}

// Stop halts the background. The next Start plays from the beginning. Stop
// is idempotent.
func (m *Mixer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.stopLocked()
}

// UpdateVolume sets the background volume, clamped to [0, 1], without
// interrupting playback. With nothing playing the value is kept for the next
// Start.
func (m *Mixer) UpdateVolume(v float64) {
	v = clampVolume(v)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = v
	if m.gain != nil {
		m.gain.SetGain(v)
	}
}

// Volume returns the current background volume.
func (m *Mixer) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Current returns the playing track, or [None] when nothing plays.
func (m *Mixer) Current() Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source == nil {
		return None
	}
	return m.current
}

// Close stops the background and closes the mixer's clock.
func (m *Mixer) Close() error {
	m.Stop()
	if err := m.clock.Close(); err != nil {
		return fmt.Errorf("background: close clock: %w", err)
	}
	return nil
}

func (m *Mixer) stopLocked() {
	if m.source == nil {
		return
	}
	src := m.source
	m.source = nil
	m.current = Track{}
	if err := audio.StopSource(src); err != nil {
		observe.Logger(context.Background()).Warn("background: stop source", "err", err)
	}
}

func (m *Mixer) fail(ctx context.Context, track Track, reason string, err error) error {
	m.metrics.RecordBackgroundError(ctx, reason)
	observe.RecordError(ctx, err)
	observe.Logger(ctx).Warn("background unavailable", "id", track.ID, "reason", reason, "err", err)
	return err
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
