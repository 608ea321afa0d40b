// Package server exposes the playback engine over HTTP.
//
// Routes:
//
//   - GET /healthz, GET /readyz: liveness and readiness (see package health).
//   - GET /metrics: Prometheus scrape endpoint.
//   - GET /timing: the timing map of the loaded session as JSON.
//   - GET /tracks: the background catalog, "none" first, plus the current id.
//   - GET /ws: a websocket carrying playback commands in and snapshot and
//     completion events out.
//
// Every route is wrapped in [observe.Middleware].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/narrata/internal/background"
	"github.com/MrWong99/narrata/internal/health"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/playback"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/timing"
)

// ErrNoSession is reported to clients that send "play" before a session has
// been prepared.
var ErrNoSession = errors.New("server: no session prepared")

// Player is the voice side of the engine. [*playback.Controller] implements it.
type Player interface {
	LoadAndPlay(ctx context.Context, buf audio.Buffer, script string) error
	Resume(ctx context.Context) error
	Pause()
	Seek(t float64) error
	Stop()
	UpdatePlaybackRate(r float64) float64
	UpdateVoiceVolume(v float64) float64
	UpdateBackgroundVolume(v float64) float64
	Snapshot() playback.Snapshot
	TimingMap() *timing.Map
	Subscribe(fn func(playback.Snapshot)) (cancel func())
	OnComplete(fn func()) (cancel func())
}

// Background is the looping background layer. [*background.Mixer]
// implements it.
type Background interface {
	Start(ctx context.Context, track background.Track) error
	Stop()
	Current() background.Track
}

// Session is the prepared voice clip a "play" command loads.
type Session struct {
	Buffer audio.Buffer
	Script string
}

// Server routes HTTP and websocket traffic to a [Player] and a [Background].
type Server struct {
	player  Player
	bg      Background
	health  *health.Handler
	metrics *observe.Metrics
	scrape  http.Handler

	catalog atomic.Pointer[background.Catalog]
	session atomic.Pointer[Session]

	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}

	unsubscribe []func()
	handler     http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth serves the given health handler on /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics overrides the metrics used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on /metrics. The default is the global
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// WithCatalog sets the initial background catalog.
func WithCatalog(c *background.Catalog) Option {
	return func(s *Server) { s.catalog.Store(c) }
}

// WithSession sets the initial session.
func WithSession(sess Session) Option {
	return func(s *Server) { s.session.Store(&sess) }
}

// WithWriteTimeout bounds each websocket write. Non-positive values are
// ignored.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New creates a Server and subscribes it to player's snapshots and
// completions. Call [Server.Close] to unsubscribe and drop all clients.
func New(player Player, bg Background, opts ...Option) *Server {
	s := &Server{
		player:       player,
		bg:           bg,
		metrics:      observe.DefaultMetrics(),
		writeTimeout: 5 * time.Second,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.catalog.Load() == nil {
		s.catalog.Store(background.NewCatalog(nil))
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.scrape == nil {
		s.scrape = promhttp.Handler()
	}

	s.unsubscribe = []func(){
		player.Subscribe(func(snap playback.Snapshot) {
			s.broadcast(Event{Type: EventSnapshot, Snapshot: &snap})
		}),
		player.OnComplete(func() {
			s.broadcast(Event{Type: EventComplete})
		}),
	}

	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", s.scrape)
	mux.HandleFunc("GET /timing", s.handleTiming)
	mux.HandleFunc("GET /tracks", s.handleTracks)
	mux.HandleFunc("GET /ws", s.handleWS)
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// SetCatalog replaces the background catalog.
func (s *Server) SetCatalog(c *background.Catalog) { s.catalog.Store(c) }

// SetSession replaces the session the next "play" command loads.
func (s *Server) SetSession(sess Session) { s.session.Store(&sess) }

// Play loads the current session into the player and starts it.
func (s *Server) Play(ctx context.Context) error {
	sess := s.session.Load()
	if sess == nil {
		return ErrNoSession
	}
	return s.player.LoadAndPlay(ctx, sess.Buffer, sess.Script)
}

// Close unsubscribes from the player and disconnects every websocket client.
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ─── HTTP handlers ───────────────────────────────────────────────────────────

func (s *Server) handleTiming(w http.ResponseWriter, _ *http.Request) {
	m := s.player.TimingMap()
	if m == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: playback.ErrNotLoaded.Error()})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type tracksBody struct {
	Tracks     []background.Track `json:"tracks"`
	Categories []string           `json:"categories"`
	Current    string             `json:"current"`
}

func (s *Server) handleTracks(w http.ResponseWriter, _ *http.Request) {
	c := s.catalog.Load()
	writeJSON(w, http.StatusOK, tracksBody{
		Tracks:     c.Tracks(),
		Categories: c.Categories(),
		Current:    s.bg.Current().ID,
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
