package playback

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no buffer is loaded.
	StateIdle State = iota

	// StateLoaded means a buffer and its timing map are ready but nothing has
	// been played, or the last playback ran to its natural end.
	StateLoaded

	// StatePlaying means a voice source is audible and the progress loop runs.
	StatePlaying

	// StatePaused means playback is halted at the paused offset.
	StatePaused
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StatePaused; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("playback: unknown state %q", b)
}

// ErrNotLoaded is returned by operations that need a loaded buffer while the
// controller is idle.
var ErrNotLoaded = errors.New("playback: nothing loaded")

// Snapshot is a consistent copy of the observable playback state.
type Snapshot struct {
	State            State   `json:"state"`
	CurrentTime      float64 `json:"current_time"`
	Duration         float64 `json:"duration"`
	IsPlaying        bool    `json:"is_playing"`
	WordIndex        int     `json:"word_index"`
	PausedOffset     float64 `json:"paused_offset"`
	Rate             float64 `json:"rate"`
	VoiceVolume      float64 `json:"voice_volume"`
	BackgroundVolume float64 `json:"background_volume"`
}
