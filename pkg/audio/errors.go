package audio

import "errors"

var (
	// ErrPlatformUnavailable reports that the audio clock could not be
	// created or resumed, typically because no user gesture preceded
	// playback. The operation may be retried after a gesture.
	ErrPlatformUnavailable = errors.New("audio platform unavailable")

	// ErrDecode reports that a handed-in buffer is not playable. It is not
	// recoverable by retrying.
	ErrDecode = errors.New("audio buffer invalid")

	// ErrBackgroundLoad reports that a background track could not be fetched
	// or decoded.
	ErrBackgroundLoad = errors.New("background track load failed")

	// ErrPlayBlocked reports that a loaded background track was refused
	// playback by the platform.
	ErrPlayBlocked = errors.New("background playback blocked")

	// ErrAlreadyStopped is returned when stopping a source that has already
	// ended or been stopped. Callers treat it as success.
	ErrAlreadyStopped = errors.New("source already stopped")
)

// StopSource stops src and swallows [ErrAlreadyStopped]. A nil src is a
// no-op.
func StopSource(src Source) error {
	if src == nil {
		return nil
	}
	if err := src.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		return err
	}
	return nil
}
