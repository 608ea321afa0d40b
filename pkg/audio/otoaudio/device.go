// Package otoaudio implements [audio.Clock] on the local sound device using
// oto for output and beep for decoding, resampling and looping.
//
// oto allows a single hardware context per process, so the device is opened
// once ([Open]) and handed out as independent [Clock] views. Each view has its
// own lifecycle, time base and sources; closing a view never closes the
// device. The voice controller and the background mixer each own one view.
package otoaudio

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gopxl/beep/v2"

	"github.com/MrWong99/narrata/pkg/audio"
)

const (
	// DefaultSampleRate is the device rate used when none is configured.
	DefaultSampleRate = 44100

	channelCount  = 2
	bytesPerFrame = channelCount * 4 // float32 little-endian per channel

	// resampleQuality trades CPU for fidelity in beep's resampler.
	resampleQuality = 4
)

// Options configures the sound device.
type Options struct {
	// SampleRate in Hz. Zero selects DefaultSampleRate.
	SampleRate int

	// BufferSize is the device buffer length. Zero picks a per-platform
	// default.
	BufferSize time.Duration
}

// Device is the process-wide sound device.
type Device struct {
	ctx    *oto.Context
	ready  chan struct{}
	format beep.Format
}

var (
	deviceOnce sync.Once
	device     *Device
	deviceErr  error
)

// Open opens the sound device. Only the first call's options take effect;
// later calls return the same device (or the same error).
func Open(opts Options) (*Device, error) {
	deviceOnce.Do(func() {
		device, deviceErr = open(opts)
	})
	return device, deviceErr
}

func open(opts Options) (*Device, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.BufferSize <= 0 {
		switch runtime.GOOS {
		case "darwin":
			opts.BufferSize = 100 * time.Millisecond
		default:
			opts.BufferSize = 50 * time.Millisecond
		}
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   opts.SampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatFloat32LE,
		BufferSize:   opts.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("otoaudio: open device: %w: %w", audio.ErrPlatformUnavailable, err)
	}
	return &Device{
		ctx:   ctx,
		ready: ready,
		format: beep.Format{
			SampleRate:  beep.SampleRate(opts.SampleRate),
			NumChannels: channelCount,
			Precision:   4,
		},
	}, nil
}

// Format returns the device output format.
func (d *Device) Format() beep.Format { return d.format }

// WaitReady blocks until the device has finished initialising or ctx is done.
func (d *Device) WaitReady(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// player is the part of [oto.Player] a [Source] drives.
type player interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(v float64)
	Close() error
}

// NewClock returns a new suspended clock view on the device.
func (d *Device) NewClock() *Clock {
	return &Clock{
		dev:       d,
		format:    d.format,
		newPlayer: func(r io.Reader) player { return d.ctx.NewPlayer(r) },
		state:     audio.ClockSuspended,
		sources:   make(map[*Source]struct{}),
	}
}

// ClockFactory adapts d to an [audio.ClockFactory].
func (d *Device) ClockFactory() audio.ClockFactory {
	return func() (audio.Clock, error) {
		return d.NewClock(), nil
	}
}
