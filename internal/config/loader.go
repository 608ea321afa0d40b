package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. All problems
// are reported together.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if sr := cfg.Audio.SampleRate; sr != 0 && (sr < 8000 || sr > 192000) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", sr))
	}
	if cfg.Audio.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size %v must not be negative", cfg.Audio.BufferSize))
	}

	// Playback
	p := cfg.Playback
	if p.LeadTime < 0 {
		errs = append(errs, fmt.Errorf("playback.lead_time %v must not be negative", p.LeadTime))
	}
	if p.MinRate < 0 || p.MaxRate < 0 {
		errs = append(errs, fmt.Errorf("playback rates must be positive (min_rate %.2f, max_rate %.2f)", p.MinRate, p.MaxRate))
	} else if p.MinRate > 0 && p.MaxRate > 0 && p.MinRate > p.MaxRate {
		errs = append(errs, fmt.Errorf("playback.min_rate %.2f exceeds max_rate %.2f", p.MinRate, p.MaxRate))
	}
	if p.DefaultRate != 0 && p.MinRate > 0 && p.MaxRate > 0 && (p.DefaultRate < p.MinRate || p.DefaultRate > p.MaxRate) {
		errs = append(errs, fmt.Errorf("playback.default_rate %.2f is out of range [%.2f, %.2f]", p.DefaultRate, p.MinRate, p.MaxRate))
	}
	if p.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("playback.tick_interval %v must not be negative", p.TickInterval))
	}
	if p.UnlockGrace < 0 {
		errs = append(errs, fmt.Errorf("playback.unlock_grace %v must not be negative", p.UnlockGrace))
	}
	if v := p.VoiceVolume; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("playback.voice_volume %.2f is out of range [0, 1]", *v))
	}
	if v := p.BackgroundVolume; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("playback.background_volume %.2f is out of range [0, 1]", *v))
	}

	// Tags
	for tag, d := range cfg.Tags {
		if !strings.HasPrefix(tag, "[") || !strings.HasSuffix(tag, "]") || len(tag) < 3 {
			errs = append(errs, fmt.Errorf("tags: %q must be bracketed, e.g. \"[pause]\"", tag))
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("tags[%q] duration %.2f must not be negative", tag, d))
		}
	}

	// Background
	b := cfg.Background
	if b.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("background.fetch_timeout %v must not be negative", b.FetchTimeout))
	}
	if b.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("background.breaker.max_failures %d must not be negative", b.Breaker.MaxFailures))
	}
	if b.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("background.breaker.reset_timeout %v must not be negative", b.Breaker.ResetTimeout))
	}

	seen := make(map[string]int, len(b.Tracks))
	for i, tr := range b.Tracks {
		prefix := fmt.Sprintf("background.tracks[%d]", i)
		switch {
		case tr.ID == "":
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		case strings.EqualFold(tr.ID, "none"):
			errs = append(errs, fmt.Errorf("%s.id %q is reserved", prefix, tr.ID))
		default:
			if prev, ok := seen[tr.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of background.tracks[%d]", prefix, tr.ID, prev))
			}
			seen[tr.ID] = i
		}
		if tr.SourceURL == "" {
			errs = append(errs, fmt.Errorf("%s.source_url is required", prefix))
		} else if err := validateSourceURL(tr.SourceURL); err != nil {
			errs = append(errs, fmt.Errorf("%s.source_url: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

// validateSourceURL accepts http(s) and file URLs and plain paths.
func validateSourceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "", "file":
		return nil
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%q has no host", raw)
		}
		return nil
	}
	return fmt.Errorf("unsupported scheme %q; valid schemes: http, https, file", u.Scheme)
}
