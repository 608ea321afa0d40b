package otoaudio

import (
	"errors"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/MrWong99/narrata/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// endPollInterval is how often a playing source checks whether the device has
// drained its last samples.
const endPollInterval = 10 * time.Millisecond

var errAlreadyStarted = errors.New("otoaudio: source already started")

// Source plays one [Buffer] through its own oto player. Like a Web Audio
// buffer source it is single-use: Start once, then Stop or let it finish.
type Source struct {
	clock *Clock
	buf   *Buffer
	gain  *Gain
	loop  bool

	mu      sync.Mutex
	rate    float64
	reader  *streamReader
	player  player
	started bool
	paused  bool
	done    bool

	ended chan struct{}
	stop  chan struct{}
}

// Start implements [audio.Source]. offset is in buffer seconds and is clamped
// to the buffer.
//
// The clock lock is held until the source is either playing or marked
// paused, so a concurrent Resume or Suspend always sees the final state.
func (s *Source) Start(offset float64) error {
	s.clock.mu.Lock()
	defer s.clock.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return audio.ErrAlreadyStopped
	}
	if s.started {
		return errAlreadyStarted
	}
	s.started = true

	n := s.buf.Len()
	pos := s.buf.Format().SampleRate.N(time.Duration(max(offset, 0) * float64(time.Second)))
	pos = min(pos, n)

	var stream beep.Streamer = s.buf.data.Streamer(pos, n)
	if s.loop {
		stream = beep.Seq(stream, beep.Loop(-1, s.buf.data.Streamer(0, n)))
	}
	resampler := beep.ResampleRatio(resampleQuality, s.ratio(), stream)
	s.reader = newStreamReader(resampler, resampler)
	s.player = s.clock.newPlayer(s.reader)
	s.gain.attach(s.player)

	if s.clock.state == audio.ClockRunning {
		s.player.Play()
	} else {
		s.paused = true
	}
	go s.watch()
	return nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return audio.ErrAlreadyStopped
	}
	err := s.finishLocked()
	s.mu.Unlock()

	s.clock.forget(s)
	return err
}

// SetRate implements [audio.Source]. It takes effect on the next device read.
func (s *Source) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	if s.reader != nil {
		s.reader.setRatio(s.ratio())
	}
}

// Ended implements [audio.Source].
func (s *Source) Ended() <-chan struct{} { return s.ended }

// ratio converts the playback rate into a resampling ratio that also bridges
// the buffer and device sample rates. Must be called with s.mu held.
func (s *Source) ratio() float64 {
	return float64(s.buf.Format().SampleRate) / float64(s.clock.format.SampleRate) * s.rate
}

func (s *Source) watch() {
	t := time.NewTicker(endPollInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}

		s.mu.Lock()
		finished := !s.done && !s.paused && s.reader.Drained() && !s.player.IsPlaying()
		if finished {
			_ = s.finishLocked()
		}
		s.mu.Unlock()

		if finished {
			s.clock.forget(s)
			return
		}
	}
}

func (s *Source) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.player == nil || s.paused {
		return
	}
	s.player.Pause()
	s.paused = true
}

func (s *Source) unpause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.player == nil || !s.paused {
		return
	}
	s.player.Play()
	s.paused = false
}

// finishLocked releases the player and signals Ended. Must be called with
// s.mu held.
func (s *Source) finishLocked() error {
	s.done = true
	var err error
	if s.player != nil {
		s.player.Pause()
		s.gain.detach(s.player)
		err = s.player.Close()
	}
	close(s.stop)
	close(s.ended)
	return err
}
