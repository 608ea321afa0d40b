package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/narrata/internal/config"
)

const fullYAML = `
server:
  listen_addr: "127.0.0.1:9090"
  log_level: debug
audio:
  sample_rate: 48000
  buffer_size: 80ms
playback:
  lead_time: 1s
  min_rate: 0.75
  max_rate: 1.5
  default_rate: 1.25
  tick_interval: 20ms
  unlock_grace: 50ms
  voice_volume: 0.8
  background_volume: 0
tags:
  "[drumroll]": 2.5
background:
  fetch_timeout: 5s
  breaker:
    max_failures: 5
    reset_timeout: 1m
  tracks:
    - id: tavern
      category: ambience
      source_url: https://cdn.example.com/tavern.mp3
    - id: rain
      category: weather
      source_url: /srv/audio/rain.wav
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.BufferSize != 80*time.Millisecond {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	p := cfg.Playback
	if p.LeadTime != time.Second || p.MinRate != 0.75 || p.MaxRate != 1.5 || p.DefaultRate != 1.25 {
		t.Errorf("playback = %+v", p)
	}
	if p.Voice() != 0.8 {
		t.Errorf("Voice() = %v, want 0.8", p.Voice())
	}
	if p.Background() != 0 {
		t.Errorf("Background() = %v, want an explicit 0 to survive defaults", p.Background())
	}
	if cfg.Tags["[drumroll]"] != 2.5 {
		t.Errorf("tags = %v", cfg.Tags)
	}
	if len(cfg.Background.Tracks) != 2 || cfg.Background.Tracks[0].ID != "tavern" {
		t.Errorf("tracks = %+v", cfg.Background.Tracks)
	}
	if cfg.Background.Breaker.MaxFailures != 5 || cfg.Background.Breaker.ResetTimeout != time.Minute {
		t.Errorf("breaker = %+v", cfg.Background.Breaker)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.SampleRate != config.DefaultSampleRate {
		t.Errorf("sample_rate = %d", cfg.Audio.SampleRate)
	}
	p := cfg.Playback
	if p.LeadTime != config.DefaultLeadTime || p.TickInterval != config.DefaultTickInterval || p.UnlockGrace != config.DefaultUnlockGrace {
		t.Errorf("playback timings = %+v", p)
	}
	if p.MinRate != config.DefaultMinRate || p.MaxRate != config.DefaultMaxRate || p.DefaultRate != 1 {
		t.Errorf("playback rates = %+v", p)
	}
	if p.Voice() != 1 || p.Background() != 1 {
		t.Errorf("volumes = %v, %v; want 1, 1", p.Voice(), p.Background())
	}
	if cfg.Background.FetchTimeout != config.DefaultFetchTimeout || cfg.Background.Breaker.MaxFailures != config.DefaultMaxFailures {
		t.Errorf("background = %+v", cfg.Background)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("playback:\n  lead: 1s\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"sample rate", "audio:\n  sample_rate: 1000\n", "audio.sample_rate"},
		{"negative lead", "playback:\n  lead_time: -1s\n", "playback.lead_time"},
		{"inverted rates", "playback:\n  min_rate: 1.8\n  max_rate: 1.2\n", "exceeds max_rate"},
		{"default rate outside bounds", "playback:\n  default_rate: 3\n", "playback.default_rate"},
		{"voice volume", "playback:\n  voice_volume: 1.5\n", "playback.voice_volume"},
		{"background volume", "playback:\n  background_volume: -0.1\n", "playback.background_volume"},
		{"unbracketed tag", "tags:\n  pause: 1\n", "must be bracketed"},
		{"negative tag", "tags:\n  \"[pause]\": -1\n", "must not be negative"},
		{"track without id", "background:\n  tracks:\n    - source_url: /a.wav\n", ".id is required"},
		{"reserved id", "background:\n  tracks:\n    - id: None\n      source_url: /a.wav\n", "is reserved"},
		{"duplicate id", "background:\n  tracks:\n    - id: a\n      source_url: /a.wav\n    - id: a\n      source_url: /b.wav\n", "duplicate"},
		{"missing url", "background:\n  tracks:\n    - id: a\n", "source_url is required"},
		{"bad scheme", "background:\n  tracks:\n    - id: a\n      source_url: ftp://host/a.wav\n", "unsupported scheme"},
		{"http without host", "background:\n  tracks:\n    - id: a\n      source_url: \"http:///a.wav\"\n", "has no host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Tags:   map[string]float64{"pause": -1},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 3 {
		t.Fatalf("want 3 joined errors, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "narrata.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
