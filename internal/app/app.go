// Package app wires the narrata subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject clocks and loaders via functional options
// (WithVoiceClocks, WithBackgroundClock, WithLoader). When an option is not
// provided, New opens the local sound device.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/narrata/internal/background"
	"github.com/MrWong99/narrata/internal/config"
	"github.com/MrWong99/narrata/internal/health"
	"github.com/MrWong99/narrata/internal/playback"
	"github.com/MrWong99/narrata/internal/resilience"
	"github.com/MrWong99/narrata/internal/server"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/audio/otoaudio"
	"github.com/MrWong99/narrata/pkg/timing"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	newVoiceClock audio.ClockFactory
	bgClock       audio.Clock
	decode        background.DecodeFunc
	loader        background.Loader
	logLevel      *slog.LevelVar
	configPath    string
	metricsPage   http.Handler

	player  *playback.Controller
	mixer   *background.Mixer
	server  *server.Server
	catalog atomic.Pointer[background.Catalog]

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVoiceClocks injects the factory for the voice controller's clocks.
func WithVoiceClocks(f audio.ClockFactory) Option {
	return func(a *App) { a.newVoiceClock = f }
}

// WithBackgroundClock injects the background mixer's clock.
func WithBackgroundClock(c audio.Clock) Option {
	return func(a *App) { a.bgClock = c }
}

// WithDecoder replaces the decoder used for voice and background files.
func WithDecoder(d background.DecodeFunc) Option {
	return func(a *App) { a.decode = d }
}

// WithLoader injects the background track loader.
func WithLoader(l background.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithLogLevel lets config reloads change the level of the given variable.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithMetricsHandler serves h on /metrics instead of the default
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsPage = h }
}

// WithConfigWatch makes Run poll path and apply hot-reloadable changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Nothing plays until a client sends "play" or
// the caller invokes [App.Play].
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	a.catalog.Store(newCatalog(cfg))
	if a.decode == nil {
		a.decode = decodeOto
	}

	// ── 1. Audio device ──────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. Background ────────────────────────────────────────────────────
	if a.loader == nil {
		a.loader = background.NewFileLoader(a.decode,
			background.WithFetchTimeout(cfg.Background.FetchTimeout),
			background.WithBreaker(resilience.Config{
				MaxFailures:  cfg.Background.Breaker.MaxFailures,
				ResetTimeout: cfg.Background.Breaker.ResetTimeout,
			}),
		)
	}
	a.mixer = background.NewMixer(a.bgClock, a.loader,
		background.WithVolume(cfg.Playback.Background()),
		background.WithReadyGrace(cfg.Playback.UnlockGrace),
	)
	a.closers = append(a.closers, a.mixer.Close)

	// ── 3. Voice controller ──────────────────────────────────────────────
	a.player = playback.New(a.newVoiceClock,
		playback.WithResolver(timing.NewResolver(cfg.Playback.LeadTime)),
		playback.WithTags(tagTable(cfg.Tags)),
		playback.WithTickInterval(cfg.Playback.TickInterval),
		playback.WithUnlockGrace(cfg.Playback.UnlockGrace),
		playback.WithRateBounds(cfg.Playback.MinRate, cfg.Playback.MaxRate),
		playback.WithRate(cfg.Playback.DefaultRate),
		playback.WithVoiceVolume(cfg.Playback.Voice()),
		playback.WithBackground(a.mixer, cfg.Playback.Background()),
	)
	a.closers = append(a.closers, a.player.Close)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	checks := []health.Checker{{Name: "audio", Check: a.player.HealthCheck}}
	if b, ok := a.loader.(interface {
		Breakers() map[string]resilience.State
	}); ok {
		checks = append(checks, health.Breakers("background", b.Breakers))
	}
	srvOpts := []server.Option{
		server.WithHealth(health.New(checks...)),
		server.WithCatalog(a.catalog.Load()),
	}
	if a.metricsPage != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.metricsPage))
	}
	a.server = server.New(a.player, a.mixer, srvOpts...)
	a.closers = append([]func() error{func() error { a.server.Close(); return nil }}, a.closers...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAudio opens the sound device unless both clocks were injected.
func (a *App) initAudio() error {
	if a.newVoiceClock != nil && a.bgClock != nil {
		return nil
	}
	dev, err := otoaudio.Open(otoaudio.Options{
		SampleRate: a.cfg.Audio.SampleRate,
		BufferSize: a.cfg.Audio.BufferSize,
	})
	if err != nil {
		return err
	}
	if a.newVoiceClock == nil {
		a.newVoiceClock = dev.ClockFactory()
	}
	if a.bgClock == nil {
		a.bgClock = dev.NewClock()
	}
	slog.Info("audio device open", "sample_rate", dev.Format().SampleRate, "buffer_size", a.cfg.Audio.BufferSize)
	return nil
}

// decodeOto adapts [otoaudio.Decode] to a [background.DecodeFunc].
func decodeOto(r io.Reader, name string) (audio.Buffer, error) {
	buf, err := otoaudio.Decode(r, name)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func tagTable(tags map[string]float64) timing.TagTable {
	return timing.DefaultTags.Merge(timing.TagTable(tags))
}

func newCatalog(cfg *config.Config) *background.Catalog {
	tracks := make([]background.Track, 0, len(cfg.Background.Tracks))
	for _, t := range cfg.Background.Tracks {
		tracks = append(tracks, background.Track{ID: t.ID, Category: t.Category, SourceURL: t.SourceURL})
	}
	return background.NewCatalog(tracks)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Player returns the voice controller.
func (a *App) Player() *playback.Controller { return a.player }

// Mixer returns the background mixer.
func (a *App) Mixer() *background.Mixer { return a.mixer }

// Server returns the HTTP surface.
func (a *App) Server() *server.Server { return a.server }

// ─── Session ─────────────────────────────────────────────────────────────────

// Prepare decodes the voice file at audioPath and offers it, with script, as
// the session the next "play" command loads.
func (a *App) Prepare(audioPath, script string) error {
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("app: open voice file: %w", err)
	}
	defer f.Close()

	buf, err := a.decode(f, filepath.Base(audioPath))
	if err != nil {
		return fmt.Errorf("app: decode %q: %w", audioPath, err)
	}
	a.server.SetSession(server.Session{Buffer: buf, Script: script})
	slog.Info("session prepared", "audio", audioPath, "seconds", buf.Duration())
	return nil
}

// Play loads the prepared session and starts it, as a "play" command would.
func (a *App) Play(ctx context.Context) error {
	return a.server.Play(ctx)
}

// StartBackground starts the catalog track with the given id.
func (a *App) StartBackground(ctx context.Context, id string) error {
	track, ok := a.catalog.Load().Lookup(id)
	if !ok {
		return fmt.Errorf("app: background %q: %w", id, server.ErrUnknownTrack)
	}
	return a.mixer.Start(ctx, track)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, watches the config file and warms the background cache
// until ctx is cancelled. It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	var watcher *config.Watcher
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		watcher = w
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.cfg.Server.ListenAddr)
		return a.server.ListenAndServe(ctx, a.cfg.Server.ListenAddr)
	})

	if watcher != nil {
		g.Go(func() error {
			<-ctx.Done()
			watcher.Stop()
			return nil
		})
	}

	g.Go(func() error {
		a.preload(ctx)
		return nil
	})

	slog.Info("app running", "tracks", len(a.catalog.Load().Tracks())-1)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// preload fetches every background track once so the first selection starts
// without a download. Failures are logged and otherwise ignored.
func (a *App) preload(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range a.catalog.Load().Tracks() {
		if t.IsNone() {
			continue
		}
		wg.Go(func() {
			if _, err := a.loader.Load(ctx, t); err != nil && ctx.Err() == nil {
				slog.Warn("background preload failed", "id", t.ID, "err", err)
			}
		})
	}
	wg.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new and
// logs the ones that need a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LeadTimeChanged {
		a.player.SetLeadTime(new.Playback.LeadTime)
	}
	if d.TagsChanged {
		a.player.SetTags(tagTable(new.Tags))
	}
	if d.VoiceVolumeChanged {
		a.player.UpdateVoiceVolume(new.Playback.Voice())
	}
	if d.BackgroundVolumeChanged {
		a.player.UpdateBackgroundVolume(new.Playback.Background())
	}
	if d.TracksChanged {
		c := newCatalog(new)
		a.catalog.Store(c)
		a.server.SetCatalog(c)
		slog.Info("background catalog reloaded", "tracks", len(c.Tracks())-1)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
