// Package playback drives voice playback against an [audio.Clock] and keeps
// the word highlight in step with it.
//
// A [Controller] owns one clock, at most one active voice source and the
// voice gain stage. Position is never read back from the device; it is
// derived from the clock as
//
//	pausedOffset + (clock.Now() - referenceInstant) × rate
//
// and pausedOffset is rebased on every pause, seek and rate change so that
// none of them accumulate drift. Observers receive a [Snapshot] after every
// state change and on every progress tick while playing.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/audio/unlock"
	"github.com/MrWong99/narrata/pkg/timing"
)

// Controller is the playback state machine:
//
//	Idle → Loaded → Playing ⇄ Paused → Idle
//
// All exported methods are safe for concurrent use. Observer and completion
// callbacks run on the goroutine that caused the change, after the internal
// lock is released, so they may call back into the controller.
type Controller struct {
	newClock   audio.ClockFactory
	resolver   *timing.Resolver
	sched      Scheduler
	metrics    *observe.Metrics
	background VolumeSetter
	grace      time.Duration
	minRate    float64
	maxRate    float64

	mu        sync.Mutex
	tags      timing.TagTable
	clock     audio.Clock
	voiceGain audio.GainStage
	state     State
	session   uint64 // bumped by every load and stop

	buf      audio.Buffer
	tmap     *timing.Map
	duration float64

	source    audio.Source
	sourceGen uint64       // bumped whenever the active source is replaced
	draining  audio.Source // finished by the progress loop, still emptying the device buffer

	pausedOffset     float64
	refInstant       float64
	rate             float64
	voiceVolume      float64
	backgroundVolume float64
	currentTime      float64
	wordIndex        int

	cancelLoop func()
	loopGen    uint64
	done       *completion

	subMu       sync.Mutex
	nextSub     int
	observers   map[int]func(Snapshot)
	completions map[int]func()
}

// New creates an idle Controller. newClock is called lazily on the first
// play, which is expected to happen inside a user gesture, and again whenever
// the previous clock was closed.
func New(newClock audio.ClockFactory, opts ...Option) *Controller {
	c := &Controller{
		newClock:         newClock,
		grace:            unlock.DefaultGrace,
		minRate:          DefaultMinRate,
		maxRate:          DefaultMaxRate,
		tags:             timing.DefaultTags,
		rate:             1,
		voiceVolume:      1,
		backgroundVolume: 1,
		wordIndex:        timing.NoWord,
		observers:        make(map[int]func(Snapshot)),
		completions:      make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = timing.NewResolver(timing.DefaultLeadTime)
	}
	if c.sched == nil {
		c.sched = IntervalScheduler{Interval: DefaultTickInterval}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.rate = c.clampRate(c.rate)
	c.voiceVolume = clampVolume(c.voiceVolume)
	c.backgroundVolume = clampVolume(c.backgroundVolume)
	return c
}

// ─── Operations ──────────────────────────────────────────────────────────────

// LoadAndPlay replaces whatever is loaded with buf, builds its timing map
// from script and starts playing from the beginning.
//
// A buffer without a positive duration fails with [audio.ErrDecode]. If the
// clock cannot be created or resumed the error wraps
// [audio.ErrPlatformUnavailable] and the controller is left paused at zero
// with the timing map in place, so [Controller.Resume] can retry after the
// next user gesture.
func (c *Controller) LoadAndPlay(ctx context.Context, buf audio.Buffer, script string) error {
	ctx, span := observe.StartSpan(ctx, "playback.LoadAndPlay")
	defer span.End()

	if buf == nil {
		return c.fail(ctx, fmt.Errorf("playback: load: nil buffer: %w", audio.ErrDecode))
	}
	d := buf.Duration()
	if !(d > 0) || math.IsInf(d, 0) {
		return c.fail(ctx, fmt.Errorf("playback: load: invalid duration %v: %w", d, audio.ErrDecode))
	}

	c.mu.Lock()
	tags := c.tags
	c.mu.Unlock()

	start := time.Now()
	m := timing.Build(script, d, tags)
	c.metrics.TimingBuildDuration.Record(ctx, time.Since(start).Seconds())

	c.mu.Lock()
	c.teardownLocked()
	c.session++
	session := c.session
	c.buf, c.tmap, c.duration = buf, m, d
	c.pausedOffset, c.currentTime = 0, 0
	c.wordIndex = c.resolver.Resolve(m, 0)
	c.setStateLocked(StateLoaded)
	c.done = &completion{}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.PlaybackLoads.Add(ctx, 1)
	observe.Logger(ctx).Info("playback loaded",
		"duration", d, "words", m.WordCount, "sentences", m.SentenceCount)
	c.publish(snap, false)

	return c.play(ctx, session)
}

// Resume continues a paused playback from the paused offset. After a natural
// end it plays again from the beginning. Resuming while playing is a no-op.
func (c *Controller) Resume(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "playback.Resume")
	defer span.End()

	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNotLoaded
	case StatePlaying:
		c.mu.Unlock()
		return nil
	}
	session := c.session
	c.mu.Unlock()

	return c.play(ctx, session)
}

// Pause halts playback and folds the time played so far into the paused
// offset. It does nothing unless the controller is playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.pausedOffset = c.positionLocked()
	c.currentTime = c.pausedOffset
	c.wordIndex = c.resolver.Resolve(c.tmap, c.currentTime)
	c.stopSourceLocked()
	c.setStateLocked(StatePaused)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap, false)
}

// Seek moves playback to t seconds, clamped to the buffer. The reported time
// and word index change immediately. A playing controller keeps playing from
// the new offset; otherwise it ends up paused there.
func (c *Controller) Seek(t float64) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if math.IsNaN(t) {
		t = 0
	}
	t = min(max(t, 0), c.duration)
	wasPlaying := c.state == StatePlaying

	c.stopSourceLocked()
	c.pausedOffset = t
	c.currentTime = t
	c.wordIndex = c.resolver.Resolve(c.tmap, t)

	var err error
	if wasPlaying {
		err = c.startLocked()
		if err != nil {
			c.setStateLocked(StatePaused)
		}
	} else {
		c.setStateLocked(StatePaused)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.PlaybackSeeks.Add(context.Background(), 1)
	c.publish(snap, false)
	if err != nil {
		return c.fail(context.Background(), err)
	}
	return nil
}

// Stop tears down playback, discards the buffer and timing map and returns
// to idle. It never fires the completion event and is safe to call
// repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasIdle := c.state == StateIdle && c.buf == nil
	c.teardownLocked()
	c.session++
	c.buf, c.tmap, c.duration = nil, nil, 0
	c.pausedOffset, c.currentTime = 0, 0
	c.wordIndex = timing.NoWord
	c.setStateLocked(StateIdle)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if !wasIdle {
		c.publish(snap, false)
	}
}

// UpdatePlaybackRate clamps r to the configured bounds and applies it to the
// active source in place. It returns the rate in effect.
func (c *Controller) UpdatePlaybackRate(r float64) float64 {
	c.mu.Lock()
	if math.IsNaN(r) {
		r = c.rate
	}
	r = c.clampRate(r)
	if c.state == StatePlaying {
		now := c.clock.Now()
		c.pausedOffset = min(c.pausedOffset+(now-c.refInstant)*c.rate, c.duration)
		c.refInstant = now
	}
	c.rate = r
	if c.source != nil {
		c.source.SetRate(r)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap, false)
	return r
}

// UpdateVoiceVolume sets the voice gain, clamped to [0, 1], whether or not
// anything is playing. It returns the volume in effect.
func (c *Controller) UpdateVoiceVolume(v float64) float64 {
	v = clampVolume(v)
	c.mu.Lock()
	c.voiceVolume = v
	if c.voiceGain != nil {
		c.voiceGain.SetGain(v)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap, false)
	return v
}

// UpdateBackgroundVolume clamps v to [0, 1] and forwards it to the background
// player, if one is attached. It returns the volume in effect.
func (c *Controller) UpdateBackgroundVolume(v float64) float64 {
	v = clampVolume(v)
	c.mu.Lock()
	c.backgroundVolume = v
	bg := c.background
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if bg != nil {
		bg.UpdateVolume(v)
	}
	c.publish(snap, false)
	return v
}

// SetTags replaces the tag table used by the next load.
func (c *Controller) SetTags(t timing.TagTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = t
}

// SetLeadTime changes the highlight lead and re-resolves the current word.
func (c *Controller) SetLeadTime(d time.Duration) {
	c.resolver.SetLeadTime(d)

	c.mu.Lock()
	c.wordIndex = c.resolver.Resolve(c.tmap, c.currentTime)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap, false)
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// TimingMap returns the timing map of the loaded buffer, or nil when idle.
// The map is immutable.
func (c *Controller) TimingMap() *timing.Map {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tmap
}

// HealthCheck reports an error once the controller's clock has been closed
// by the platform. A controller that has not created its clock yet is
// healthy.
func (c *Controller) HealthCheck(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock != nil && c.clock.State() == audio.ClockClosed {
		return fmt.Errorf("playback: audio clock closed: %w", audio.ErrPlatformUnavailable)
	}
	return nil
}

// Close stops playback and releases the clock.
func (c *Controller) Close() error {
	c.Stop()

	c.mu.Lock()
	clk := c.clock
	c.clock, c.voiceGain = nil, nil
	c.mu.Unlock()

	if clk == nil {
		return nil
	}
	if err := clk.Close(); err != nil {
		return fmt.Errorf("playback: close clock: %w", err)
	}
	return nil
}

// ─── Subscriptions ───────────────────────────────────────────────────────────

// Subscribe registers fn to receive every snapshot. The returned function
// unregisters it.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.observers[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.observers, id)
	}
}

// OnComplete registers fn to run once per playback that reaches its natural
// end. Stopping, seeking or reloading never triggers it. The returned
// function unregisters it.
func (c *Controller) OnComplete(fn func()) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.completions[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.completions, id)
	}
}

func (c *Controller) publish(snap Snapshot, completed bool) {
	c.subMu.Lock()
	observers := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	var completions []func()
	if completed {
		for _, fn := range c.completions {
			completions = append(completions, fn)
		}
	}
	c.subMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	for _, fn := range completions {
		fn()
	}
}

// ─── Internals ───────────────────────────────────────────────────────────────

// play readies the clock and starts a source at the paused offset, provided
// session is still the loaded one.
func (c *Controller) play(ctx context.Context, session uint64) error {
	clkErr := c.readyClock(ctx)

	c.mu.Lock()
	if session != c.session || c.state == StatePlaying || c.state == StateIdle {
		// Superseded by a stop, a reload or a concurrent resume.
		c.mu.Unlock()
		return clkErr
	}
	err := clkErr
	if err == nil {
		err = c.startLocked()
	}
	if err != nil {
		c.setStateLocked(StatePaused)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap, false)
	if err != nil {
		return c.fail(ctx, err)
	}
	observe.Logger(ctx).Debug("playback started", "offset", snap.PausedOffset, "rate", snap.Rate)
	return nil
}

// readyClock makes sure a running clock exists. A newly created clock is
// warmed up before it is resumed.
func (c *Controller) readyClock(ctx context.Context) error {
	c.mu.Lock()
	clk, created, err := c.ensureClockLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if created {
		unlock.Warmup(ctx, clk)
	}
	ok, err := unlock.EnsureResumed(ctx, clk, c.grace)
	if err != nil {
		c.metrics.UnlockFailures.Add(ctx, 1)
		return fmt.Errorf("playback: unlock: %w", err)
	}
	if !ok {
		c.metrics.UnlockFailures.Add(ctx, 1)
		return fmt.Errorf("playback: unlock: clock did not start: %w", audio.ErrPlatformUnavailable)
	}
	return nil
}

// ensureClockLocked returns the current clock, creating a new one with a
// fresh voice gain stage if there is none or the previous one was closed.
func (c *Controller) ensureClockLocked() (audio.Clock, bool, error) {
	if c.clock != nil && c.clock.State() != audio.ClockClosed {
		return c.clock, false, nil
	}
	if c.newClock == nil {
		return nil, false, fmt.Errorf("playback: no clock factory: %w", audio.ErrPlatformUnavailable)
	}
	clk, err := c.newClock()
	if err != nil {
		return nil, false, fmt.Errorf("playback: create clock: %w: %w", audio.ErrPlatformUnavailable, err)
	}
	c.clock = clk
	c.voiceGain = clk.NewGain(c.voiceVolume)
	c.source = nil
	return clk, true, nil
}

// startLocked creates a source for the loaded buffer, starts it at the
// paused offset and enters Playing. The caller must have stopped any
// previous source.
func (c *Controller) startLocked() error {
	if c.clock == nil {
		return fmt.Errorf("playback: start: no clock: %w", audio.ErrPlatformUnavailable)
	}
	c.stopDrainLocked()
	src, err := c.clock.NewSource(c.buf, c.voiceGain, audio.SourceOptions{Rate: c.rate})
	if err != nil {
		return fmt.Errorf("playback: create source: %w", err)
	}
	if err := src.Start(c.pausedOffset); err != nil {
		_ = audio.StopSource(src)
		return fmt.Errorf("playback: start source: %w", err)
	}

	c.sourceGen++
	c.source = src
	c.refInstant = c.clock.Now()
	if c.done == nil {
		c.done = &completion{}
	}
	c.setStateLocked(StatePlaying)
	c.startLoopLocked()
	go c.watchEnded(src, c.sourceGen)
	return nil
}

// stopSourceLocked cancels the progress loop and discards the active source
// along with any draining one.
func (c *Controller) stopSourceLocked() {
	c.stopLoopLocked()
	c.stopDrainLocked()
	if c.source == nil {
		return
	}
	src := c.source
	c.source = nil
	c.sourceGen++
	if err := audio.StopSource(src); err != nil {
		slog.Warn("playback: stop source", "err", err)
	}
}

func (c *Controller) stopDrainLocked() {
	if c.draining == nil {
		return
	}
	if err := audio.StopSource(c.draining); err != nil {
		slog.Warn("playback: stop draining source", "err", err)
	}
	c.draining = nil
}

// teardownLocked stops everything and settles the completion without firing.
func (c *Controller) teardownLocked() {
	c.stopSourceLocked()
	c.done.cancel()
	c.done = nil
}

// finishLocked handles the natural end of playback and reports whether the
// completion event should fire. With drain set the source is detached but
// left to play out what the device has already queued; the clock estimate
// reaches the end before the speaker does.
func (c *Controller) finishLocked(drain bool) bool {
	if drain && c.source != nil {
		c.stopLoopLocked()
		c.stopDrainLocked()
		c.draining = c.source
		c.source = nil
		c.sourceGen++
	} else {
		c.stopSourceLocked()
	}
	c.setStateLocked(StateLoaded)
	c.pausedOffset = 0
	c.currentTime = c.duration
	c.wordIndex = c.resolver.Resolve(c.tmap, c.duration)

	fire := c.done.resolve()
	c.done = nil
	if fire {
		c.metrics.PlaybackCompletions.Add(context.Background(), 1)
	}
	return fire
}

func (c *Controller) startLoopLocked() {
	c.loopGen++
	gen := c.loopGen
	c.cancelLoop = c.sched.Every(func() { c.tick(gen) })
}

func (c *Controller) stopLoopLocked() {
	c.loopGen++
	if c.cancelLoop != nil {
		c.cancelLoop()
		c.cancelLoop = nil
	}
}

// tick is one progress loop iteration. Ticks from a cancelled loop are
// ignored.
func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.loopGen || c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.currentTime = c.positionLocked()
	c.wordIndex = c.resolver.Resolve(c.tmap, c.currentTime)
	fire := false
	if c.currentTime >= c.duration {
		fire = c.finishLocked(true)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap, fire)
}

// watchEnded waits for src to finish. Only the natural end of the active
// source counts; a stopped or replaced source no longer matches gen.
func (c *Controller) watchEnded(src audio.Source, gen uint64) {
	<-src.Ended()

	c.mu.Lock()
	if gen != c.sourceGen || c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	fire := c.finishLocked(false)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap, fire)
}

// positionLocked derives the playback position from the clock.
func (c *Controller) positionLocked() float64 {
	p := c.pausedOffset
	if c.state == StatePlaying && c.clock != nil {
		p += (c.clock.Now() - c.refInstant) * c.rate
	}
	return min(max(p, 0), c.duration)
}

func (c *Controller) setStateLocked(s State) {
	if s == c.state {
		return
	}
	switch {
	case s == StatePlaying:
		c.metrics.ActivePlayback.Add(context.Background(), 1)
	case c.state == StatePlaying:
		c.metrics.ActivePlayback.Add(context.Background(), -1)
	}
	c.state = s
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:            c.state,
		CurrentTime:      c.currentTime,
		Duration:         c.duration,
		IsPlaying:        c.state == StatePlaying,
		WordIndex:        c.wordIndex,
		PausedOffset:     c.pausedOffset,
		Rate:             c.rate,
		VoiceVolume:      c.voiceVolume,
		BackgroundVolume: c.backgroundVolume,
	}
}

// fail records and logs a voice-path error and returns it unchanged.
func (c *Controller) fail(ctx context.Context, err error) error {
	kind := errorKind(err)
	c.metrics.RecordPlaybackError(ctx, kind)
	observe.RecordError(ctx, err)
	observe.Logger(ctx).Warn("playback failed", "kind", kind, "err", err)
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, audio.ErrPlatformUnavailable):
		return "platform_unavailable"
	case errors.Is(err, audio.ErrDecode):
		return "decode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

func (c *Controller) clampRate(r float64) float64 {
	return min(max(r, c.minRate), c.maxRate)
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
