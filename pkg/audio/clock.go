// Package audio defines the interfaces between the playback engine and the
// audio hardware.
//
// The three primary abstractions are:
//
//   - [Clock]: the hardware audio clock. It reports the current time, can be
//     suspended or closed by the platform, and creates playback nodes.
//   - [Source]: a one-shot node that plays a [Buffer] from an offset until it
//     ends or is stopped. Sources are never restarted; seeking or resuming
//     creates a new one.
//   - [GainStage]: a volume control that outlives individual sources.
//
// Implementations live in adapter packages (audio/otoaudio for the local
// sound device, audio/mock for tests). This package lives under pkg/ because
// other frontends are expected to provide their own [Clock].
package audio

import "context"

// ClockState is the lifecycle state of a [Clock].
type ClockState int

const (
	// ClockSuspended means the clock exists but is not advancing. Platforms
	// with autoplay restrictions create clocks in this state until a user
	// gesture resumes them.
	ClockSuspended ClockState = iota

	// ClockRunning means the clock is advancing and sources are audible.
	ClockRunning

	// ClockClosed is terminal. A closed clock must be replaced.
	ClockClosed
)

// String returns the human-readable name of the clock state.
func (s ClockState) String() string {
	switch s {
	case ClockSuspended:
		return "suspended"
	case ClockRunning:
		return "running"
	case ClockClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Buffer is fully decoded audio ready for playback. Decoding happens outside
// the engine; the engine only needs the length.
type Buffer interface {
	// Duration returns the playback length in seconds at rate 1.0.
	Duration() float64
}

// SourceOptions configures a [Source] at creation time.
type SourceOptions struct {
	// Rate is the initial playback rate. Zero means 1.0.
	Rate float64

	// Loop repeats the buffer until the source is stopped. A looping source
	// never ends on its own.
	Loop bool
}

// Source plays a single [Buffer] once. It mirrors a hardware buffer source
// node: Start may only be called once, and Stop is final.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start begins playback at offset seconds into the buffer.
	Start(offset float64) error

	// Stop halts playback. Stopping a source that already stopped or ended
	// returns [ErrAlreadyStopped].
	Stop() error

	// SetRate changes the playback rate in place without restarting.
	SetRate(rate float64)

	// Ended is closed once the source is finished, whether it reached the
	// end of its buffer or was stopped. Callers that need to tell the two
	// apart must track their own stop calls.
	Ended() <-chan struct{}
}

// GainStage is an independently controllable volume stage. Sources created
// with a gain stage follow its value live.
type GainStage interface {
	// SetGain sets the linear gain in [0, 1].
	SetGain(v float64)

	// Gain returns the current linear gain.
	Gain() float64
}

// Clock is the hardware audio clock together with the factory for nodes
// that play on it.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the clock time in seconds. It is monotonic and does not
	// advance while the clock is suspended.
	Now() float64

	// State returns the current lifecycle state.
	State() ClockState

	// Resume moves a suspended clock to running. It blocks until the
	// platform confirms or ctx is done. Resuming a closed clock fails with
	// [ErrPlatformUnavailable].
	Resume(ctx context.Context) error

	// NewGain creates a gain stage with initial value v.
	NewGain(v float64) GainStage

	// NewSource creates a source bound to buf and routed through gain.
	// gain may be nil for unity gain. Returns an error wrapping [ErrDecode]
	// if buf was not produced for this clock.
	NewSource(buf Buffer, gain GainStage, opts SourceOptions) (Source, error)

	// NewSilence returns a silent buffer of the given length.
	NewSilence(seconds float64) Buffer

	// Close stops every source and moves the clock to [ClockClosed]. Close
	// is idempotent.
	Close() error
}

// ClockFactory creates a new [Clock]. It is called lazily from the first
// user-initiated playback and again whenever the previous clock was closed.
type ClockFactory func() (Clock, error)
