// Package config provides the configuration schema, loader and hot-reload
// watcher for the narrata playback engine.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [LoadFromReader] to fields left unset.
const (
	DefaultListenAddr   = ":8080"
	DefaultSampleRate   = 44100
	DefaultLeadTime     = 1500 * time.Millisecond
	DefaultMinRate      = 0.5
	DefaultMaxRate      = 2.0
	DefaultTickInterval = 16 * time.Millisecond
	DefaultUnlockGrace  = 100 * time.Millisecond
	DefaultFetchTimeout = 15 * time.Second
	DefaultMaxFailures  = 3
	DefaultResetTimeout = 30 * time.Second
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Audio      AudioConfig        `yaml:"audio"`
	Playback   PlaybackConfig     `yaml:"playback"`
	Tags       map[string]float64 `yaml:"tags"`
	Background BackgroundConfig   `yaml:"background"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the control and metrics server.
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`
}

// AudioConfig configures the output device. Changes require a restart.
type AudioConfig struct {
	SampleRate int           `yaml:"sample_rate"`
	BufferSize time.Duration `yaml:"buffer_size"`
}

// PlaybackConfig tunes the voice controller.
type PlaybackConfig struct {
	// LeadTime is how far word highlighting runs ahead of the audio.
	LeadTime time.Duration `yaml:"lead_time"`

	MinRate     float64 `yaml:"min_rate"`
	MaxRate     float64 `yaml:"max_rate"`
	DefaultRate float64 `yaml:"default_rate"`

	TickInterval time.Duration `yaml:"tick_interval"`

	// UnlockGrace is the settle time after resuming a suspended clock.
	UnlockGrace time.Duration `yaml:"unlock_grace"`

	// Volumes are pointers so that an explicit 0 (muted) survives defaults.
	VoiceVolume      *float64 `yaml:"voice_volume"`
	BackgroundVolume *float64 `yaml:"background_volume"`
}

// Voice returns the configured voice volume, or 1 when unset.
func (p PlaybackConfig) Voice() float64 { return valueOr(p.VoiceVolume, 1) }

// Background returns the configured background volume, or 1 when unset.
func (p PlaybackConfig) Background() float64 { return valueOr(p.BackgroundVolume, 1) }

// BackgroundConfig lists the background tracks on offer and how to fetch them.
type BackgroundConfig struct {
	Tracks       []TrackConfig `yaml:"tracks"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// TrackConfig is one selectable background track.
type TrackConfig struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`

	// SourceURL is an http(s) or file URL, or a plain filesystem path.
	SourceURL string `yaml:"source_url"`
}

// BreakerConfig configures the per-host circuit breaker for remote tracks.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// applyDefaults fills unset fields. Volumes stay nil; see [PlaybackConfig.Voice].
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	p := &c.Playback
	if p.LeadTime == 0 {
		p.LeadTime = DefaultLeadTime
	}
	if p.MinRate == 0 {
		p.MinRate = DefaultMinRate
	}
	if p.MaxRate == 0 {
		p.MaxRate = DefaultMaxRate
	}
	if p.DefaultRate == 0 {
		p.DefaultRate = 1
	}
	if p.TickInterval == 0 {
		p.TickInterval = DefaultTickInterval
	}
	if p.UnlockGrace == 0 {
		p.UnlockGrace = DefaultUnlockGrace
	}
	b := &c.Background
	if b.FetchTimeout == 0 {
		b.FetchTimeout = DefaultFetchTimeout
	}
	if b.Breaker.MaxFailures == 0 {
		b.Breaker.MaxFailures = DefaultMaxFailures
	}
	if b.Breaker.ResetTimeout == 0 {
		b.Breaker.ResetTimeout = DefaultResetTimeout
	}
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
