package background_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/narrata/internal/background"
	"github.com/MrWong99/narrata/internal/resilience"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/audio/mock"
)

var rain = background.Track{ID: "rain", Category: "nature", SourceURL: "file:///tracks/rain.mp3"}

// fakeLoader returns a fixed buffer or error and counts calls.
type fakeLoader struct {
	mu    sync.Mutex
	err   error
	calls []background.Track
}

func (f *fakeLoader) Load(_ context.Context, t background.Track) (audio.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, t)
	if f.err != nil {
		return nil, f.err
	}
	return &mock.Buffer{Seconds: 120}, nil
}

func newMixer(t *testing.T, clk *mock.Clock, loader background.Loader, opts ...background.MixerOption) *background.Mixer {
	t.Helper()
	opts = append([]background.MixerOption{background.WithReadyGrace(0)}, opts...)
	m := background.NewMixer(clk, loader, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// ─── Catalog ─────────────────────────────────────────────────────────────────

func TestCatalog(t *testing.T) {
	t.Parallel()

	c := background.NewCatalog([]background.Track{
		rain,
		{ID: "none", Category: "bogus", SourceURL: "x"},
		{ID: "cafe", Category: "urban", SourceURL: "cafe.wav"},
		{ID: "rain", Category: "dup", SourceURL: "dup.wav"},
		{ID: "", SourceURL: "anonymous.wav"},
		{ID: "forest", Category: "nature", SourceURL: "forest.wav"},
	})

	tracks := c.Tracks()
	ids := make([]string, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID
	}
	if want := []string{"none", "rain", "cafe", "forest"}; !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	if none, ok := c.Lookup(background.NoneID); !ok || none != background.None {
		t.Errorf("Lookup(none) = %+v, %v", none, ok)
	}
	if got, _ := c.Lookup("rain"); got.Category != "nature" {
		t.Errorf("duplicate overrode the first rain entry: %+v", got)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Error("Lookup(missing) succeeded")
	}
	if got := c.Categories(); !slices.Equal(got, []string{"nature", "urban"}) {
		t.Errorf("Categories() = %v", got)
	}
}

func TestTrack_IsNone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		track background.Track
		want  bool
	}{
		{background.None, true},
		{background.Track{}, true},
		{background.Track{ID: "rain"}, true},
		{rain, false},
	}
	for _, tc := range tests {
		if got := tc.track.IsNone(); got != tc.want {
			t.Errorf("%+v.IsNone() = %v, want %v", tc.track, got, tc.want)
		}
	}
}

// ─── Mixer ───────────────────────────────────────────────────────────────────

func TestMixer_NoneCreatesNoSource(t *testing.T) {
	t.Parallel()

	clk := mock.NewClock()
	loader := &fakeLoader{}
	m := newMixer(t, clk, loader)

	if err := m.Start(context.Background(), background.Track{ID: background.NoneID}); err != nil {
		t.Fatalf("Start(none): %v", err)
	}
	m.UpdateVolume(0.2)
	m.UpdateVolume(5)

	if clk.SourceCount() != 0 || len(clk.Gains) != 0 {
		t.Fatalf("sources = %d gains = %d, want none", clk.SourceCount(), len(clk.Gains))
	}
	if len(loader.calls) != 0 {
		t.Error("loader called for the none track")
	}
	if m.Current() != background.None {
		t.Errorf("Current() = %+v, want None", m.Current())
	}
	if m.Volume() != 1 {
		t.Errorf("Volume() = %v, want clamped 1", m.Volume())
	}
}

func TestMixer_StartLoopsAtVolume(t *testing.T) {
	t.Parallel()

	clk := mock.NewClock()
	m := newMixer(t, clk, &fakeLoader{}, background.WithVolume(0.3))

	if err := m.Start(context.Background(), rain); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src := clk.LastSource()
	if !src.Loop || !src.Started() || src.StartOffsets[0] != 0 {
		t.Fatalf("source = %+v, want a started loop from 0", src)
	}
	if src.Gain.Gain() != 0.3 {
		t.Errorf("gain = %v, want 0.3", src.Gain.Gain())
	}
	if m.Current() != rain {
		t.Errorf("Current() = %+v", m.Current())
	}

	m.UpdateVolume(0.8)
	if src.Gain.Gain() != 0.8 || src.Stopped() {
		t.Error("volume change must apply live without stopping the source")
	}
}

func TestMixer_StartReplacesPrevious(t *testing.T) {
	t.Parallel()

	clk := mock.NewClock()
	m := newMixer(t, clk, &fakeLoader{})
	ctx := context.Background()

	_ = m.Start(ctx, rain)
	first := clk.LastSource()
	cafe := background.Track{ID: "cafe", Category: "urban", SourceURL: "cafe.wav"}
	if err := m.Start(ctx, cafe); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !first.Stopped() {
		t.Error("previous background still playing")
	}
	if clk.LastSource() == first || m.Current() != cafe {
		t.Error("new track not playing")
	}
	if len(clk.Gains) != 1 {
		t.Errorf("gain stages = %d, want one shared stage", len(clk.Gains))
	}
}

func TestMixer_StopIsIdempotentAndRestartsFromZero(t *testing.T) {
	t.Parallel()

	clk := mock.NewClock()
	m := newMixer(t, clk, &fakeLoader{})
	ctx := context.Background()

	m.Stop()
	_ = m.Start(ctx, rain)
	src := clk.LastSource()
	m.Stop()
	m.Stop()
	if !src.Stopped() || src.CallCountStop != 1 {
		t.Fatalf("stop calls = %d, want exactly 1", src.CallCountStop)
	}

	_ = m.Start(ctx, rain)
	if got := clk.LastSource().StartOffsets; got[0] != 0 {
		t.Errorf("restart offset = %v, want 0", got[0])
	}
}

func TestMixer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		clock   func() *mock.Clock
		loadErr error
		want    error
	}{
		{
			name:    "load failure",
			clock:   mock.NewClock,
			loadErr: errors.New("404"),
			want:    audio.ErrBackgroundLoad,
		},
		{
			name: "clock blocked",
			clock: func() *mock.Clock {
				c := mock.NewSuspendedClock()
				c.ResumeError = errors.New("autoplay policy")
				return c
			},
			want: audio.ErrPlayBlocked,
		},
		{
			name: "source refused",
			clock: func() *mock.Clock {
				c := mock.NewClock()
				c.NewSourceError = errors.New("device busy")
				return c
			},
			want: audio.ErrPlayBlocked,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clk := tc.clock()
			m := newMixer(t, clk, &fakeLoader{err: tc.loadErr})

			err := m.Start(context.Background(), rain)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			other := audio.ErrPlayBlocked
			if tc.want == audio.ErrPlayBlocked {
				other = audio.ErrBackgroundLoad
			}
			if errors.Is(err, other) {
				t.Errorf("err %v matches both load and play-blocked", err)
			}
			if m.Current() != background.None {
				t.Error("failed start left a current track")
			}
		})
	}
}

// ─── FileLoader ──────────────────────────────────────────────────────────────

// recordingDecode returns a decode func that records names and payloads.
func recordingDecode(calls *atomic.Int32, names *sync.Map) background.DecodeFunc {
	return func(r io.Reader, name string) (audio.Buffer, error) {
		calls.Add(1)
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, audio.ErrDecode
		}
		names.Store(name, string(b))
		return &mock.Buffer{Seconds: float64(len(b))}, nil
	}
}

func TestFileLoader_LocalPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "rain.wav")
	if err := os.WriteFile(p, []byte("pcm!"), 0o600); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	var names sync.Map
	l := background.NewFileLoader(recordingDecode(&calls, &names))
	ctx := context.Background()

	for _, src := range []string{p, "file://" + p} {
		buf, err := l.Load(ctx, background.Track{ID: "rain", SourceURL: src})
		if err != nil {
			t.Fatalf("Load(%q): %v", src, err)
		}
		if buf.Duration() != 4 {
			t.Errorf("Load(%q) duration = %v, want 4", src, buf.Duration())
		}
	}
	if _, ok := names.Load("rain.wav"); !ok {
		t.Error("decode did not receive the file name")
	}

	// Cached by URL.
	_, _ = l.Load(ctx, background.Track{ID: "rain", SourceURL: p})
	if calls.Load() != 2 {
		t.Errorf("decode calls = %d, want 2 (one per distinct URL)", calls.Load())
	}

	l.Forget(p)
	_, _ = l.Load(ctx, background.Track{ID: "rain", SourceURL: p})
	if calls.Load() != 3 {
		t.Errorf("decode calls = %d after Forget, want 3", calls.Load())
	}
}

func TestFileLoader_Errors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var names sync.Map
	l := background.NewFileLoader(recordingDecode(&calls, &names))
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
	}{
		{"no source", ""},
		{"missing file", filepath.Join(t.TempDir(), "nope.wav")},
		{"unsupported scheme", "ftp://example.com/a.wav"},
	}
	for _, tc := range tests {
		if _, err := l.Load(ctx, background.Track{ID: "x", SourceURL: tc.url}); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestFileLoader_HTTP(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/ok/forest.mp3":
			_, _ = w.Write([]byte("birdsong"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	var calls atomic.Int32
	var names sync.Map
	l := background.NewFileLoader(recordingDecode(&calls, &names),
		background.WithHTTPClient(srv.Client()),
		background.WithBreaker(resilience.Config{MaxFailures: 2}),
	)
	ctx := context.Background()

	buf, err := l.Load(ctx, background.Track{ID: "forest", SourceURL: srv.URL + "/ok/forest.mp3"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if buf.Duration() != 8 {
		t.Errorf("duration = %v, want 8", buf.Duration())
	}
	if v, _ := names.Load("forest.mp3"); v != "birdsong" {
		t.Errorf("decoded payload = %v", v)
	}

	// Two server errors open the host's breaker; the third call never
	// reaches the server.
	for range 2 {
		if _, err := l.Load(ctx, background.Track{ID: "bad", SourceURL: srv.URL + "/boom.mp3"}); err == nil {
			t.Fatal("expected server error")
		}
	}
	before := hits.Load()
	_, err = l.Load(ctx, background.Track{ID: "bad", SourceURL: srv.URL + "/boom.mp3"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != before {
		t.Error("request sent through an open breaker")
	}
	if len(l.Breakers()) != 1 {
		t.Errorf("breakers = %v, want one per host", l.Breakers())
	}
}

// gatedServer serves "pad" once release is closed and signals entered on
// every request.
func gatedServer(t *testing.T, hits *atomic.Int32) (srv *httptest.Server, entered <-chan struct{}, release chan struct{}) {
	t.Helper()
	in := make(chan struct{}, 8)
	release = make(chan struct{})
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		in <- struct{}{}
		select {
		case <-release:
			_, _ = w.Write([]byte("pad"))
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	return srv, in, release
}

func TestFileLoader_CancelledCallerDoesNotAbortSharedFetch(t *testing.T) {
	t.Parallel()

	var hits, calls atomic.Int32
	srv, entered, release := gatedServer(t, &hits)
	l := background.NewFileLoader(recordingDecode(&calls, &sync.Map{}), background.WithHTTPClient(srv.Client()))
	track := background.Track{ID: "drone", SourceURL: srv.URL + "/drone.ogg"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Load(firstCtx, track)
		firstErr <- err
	}()
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("fetch never reached the server")
	}

	type result struct {
		buf audio.Buffer
		err error
	}
	second := make(chan result, 1)
	go func() {
		buf, err := l.Load(context.Background(), track)
		second <- result{buf, err}
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("second caller: %v", res.err)
		}
		if res.buf.Duration() != 3 {
			t.Errorf("duration = %v, want 3", res.buf.Duration())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second caller never finished")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want one shared fetch", n)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("decodes = %d, want 1", n)
	}
}

func TestFileLoader_FetchTimeout(t *testing.T) {
	t.Parallel()

	var hits, calls atomic.Int32
	srv, _, release := gatedServer(t, &hits)
	t.Cleanup(func() { close(release) })
	l := background.NewFileLoader(recordingDecode(&calls, &sync.Map{}),
		background.WithHTTPClient(srv.Client()),
		background.WithFetchTimeout(50*time.Millisecond),
	)

	_, err := l.Load(context.Background(), background.Track{ID: "slow", SourceURL: srv.URL + "/slow.ogg"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if calls.Load() != 0 {
		t.Error("decoder ran for a timed-out fetch")
	}
}
