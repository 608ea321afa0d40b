// Package unlock prepares an [audio.Clock] for its first audible playback.
//
// Platforms with autoplay restrictions hand out clocks that stay suspended
// until a user gesture, and some report "running" a few milliseconds before
// audio actually reaches the device. [EnsureResumed] absorbs both; [Warmup]
// forces hardware initialisation ahead of the first real buffer.
package unlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/narrata/pkg/audio"
)

// DefaultGrace is the settle time after a resume before the clock is trusted.
const DefaultGrace = 100 * time.Millisecond

// warmupLength is the length of the silent buffer played by [Warmup].
const warmupLength = 0.001

// EnsureResumed makes sure clock is running. A suspended clock is resumed and
// then given grace to settle. It reports whether the clock is running
// afterwards.
//
// A closed clock cannot be revived; EnsureResumed returns false and an error
// wrapping [audio.ErrPlatformUnavailable] so the caller can create a new one.
// Resume errors are wrapped the same way. EnsureResumed has no timeout of its
// own; bound ctx if the platform may hang.
func EnsureResumed(ctx context.Context, clock audio.Clock, grace time.Duration) (bool, error) {
	if clock == nil {
		return false, fmt.Errorf("unlock: no clock: %w", audio.ErrPlatformUnavailable)
	}

	switch clock.State() {
	case audio.ClockClosed:
		return false, fmt.Errorf("unlock: clock closed: %w", audio.ErrPlatformUnavailable)
	case audio.ClockRunning:
		return true, nil
	}

	if err := clock.Resume(ctx); err != nil {
		return false, fmt.Errorf("unlock: resume: %w: %w", audio.ErrPlatformUnavailable, err)
	}

	if grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}

	return clock.State() == audio.ClockRunning, nil
}

// Warmup plays a near-zero-length silent buffer on clock. Call it right after
// the clock is created, from inside the user-gesture handler. Failures are
// logged and otherwise ignored.
func Warmup(ctx context.Context, clock audio.Clock) {
	if clock == nil {
		return
	}
	src, err := clock.NewSource(clock.NewSilence(warmupLength), nil, audio.SourceOptions{})
	if err != nil {
		slog.WarnContext(ctx, "audio warmup: cannot create source", "err", err)
		return
	}
	if err := src.Start(0); err != nil {
		slog.WarnContext(ctx, "audio warmup: cannot start source", "err", err)
		return
	}
	slog.DebugContext(ctx, "audio warmup played", "seconds", warmupLength)
}
