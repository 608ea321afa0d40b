package playback

import (
	"time"

	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/timing"
)

const (
	// DefaultMinRate and DefaultMaxRate bound UpdatePlaybackRate.
	DefaultMinRate = 0.5
	DefaultMaxRate = 2.0
)

// VolumeSetter receives background volume changes. The background mixer
// implements it; the controller forwards to it without owning it.
type VolumeSetter interface {
	UpdateVolume(v float64)
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithScheduler replaces the ticker-driven progress loop.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithTickInterval sets the progress loop period of the default scheduler.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) { c.sched = IntervalScheduler{Interval: d} }
}

// WithResolver shares a word resolver, typically so its lead time can be
// tuned at runtime.
func WithResolver(r *timing.Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithTags sets the tag duration table used when building timing maps.
func WithTags(t timing.TagTable) Option {
	return func(c *Controller) { c.tags = t }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithUnlockGrace sets the settle time after resuming a suspended clock.
func WithUnlockGrace(d time.Duration) Option {
	return func(c *Controller) { c.grace = d }
}

// WithRateBounds sets the playback rate clamp. Invalid bounds are ignored.
func WithRateBounds(lo, hi float64) Option {
	return func(c *Controller) {
		if lo > 0 && hi >= lo {
			c.minRate, c.maxRate = lo, hi
		}
	}
}

// WithRate sets the initial playback rate.
func WithRate(r float64) Option {
	return func(c *Controller) { c.rate = r }
}

// WithVoiceVolume sets the initial voice gain.
func WithVoiceVolume(v float64) Option {
	return func(c *Controller) { c.voiceVolume = v }
}

// WithBackground routes UpdateBackgroundVolume to bg and sets its initial
// volume.
func WithBackground(bg VolumeSetter, volume float64) Option {
	return func(c *Controller) {
		c.background = bg
		c.backgroundVolume = volume
	}
}
