package playback

import (
	"sync"
	"time"
)

// DefaultTickInterval approximates one display frame.
const DefaultTickInterval = 16 * time.Millisecond

// Scheduler runs a recurring callback until cancelled. Cancel must be
// idempotent and must not wait for an in-flight callback, because the
// controller cancels while holding the lock the callback takes.
type Scheduler interface {
	Every(fn func()) (cancel func())
}

// IntervalScheduler runs callbacks on a [time.Ticker].
type IntervalScheduler struct {
	Interval time.Duration
}

// Every implements [Scheduler].
func (s IntervalScheduler) Every(fn func()) func() {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
