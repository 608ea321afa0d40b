package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes get their own flag; everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LeadTimeChanged bool
	TagsChanged     bool // applies from the next load

	VoiceVolumeChanged      bool
	BackgroundVolumeChanged bool

	TracksChanged bool

	// RestartRequired names the changed keys that only take effect after a
	// restart, in a stable order.
	RestartRequired []string
}

// Changed reports whether anything at all differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LeadTimeChanged || d.TagsChanged ||
		d.VoiceVolumeChanged || d.BackgroundVolumeChanged || d.TracksChanged ||
		len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Playback, new.Playback
	d.LeadTimeChanged = op.LeadTime != np.LeadTime
	d.TagsChanged = !maps.Equal(old.Tags, new.Tags)
	d.VoiceVolumeChanged = op.Voice() != np.Voice()
	d.BackgroundVolumeChanged = op.Background() != np.Background()
	d.TracksChanged = !slices.Equal(old.Background.Tracks, new.Background.Tracks)

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("audio.sample_rate", old.Audio.SampleRate != new.Audio.SampleRate)
	restart("audio.buffer_size", old.Audio.BufferSize != new.Audio.BufferSize)
	restart("playback.min_rate", op.MinRate != np.MinRate)
	restart("playback.max_rate", op.MaxRate != np.MaxRate)
	restart("playback.default_rate", op.DefaultRate != np.DefaultRate)
	restart("playback.tick_interval", op.TickInterval != np.TickInterval)
	restart("playback.unlock_grace", op.UnlockGrace != np.UnlockGrace)
	restart("background.fetch_timeout", old.Background.FetchTimeout != new.Background.FetchTimeout)
	restart("background.breaker", old.Background.Breaker != new.Background.Breaker)

	return d
}
