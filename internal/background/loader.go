package background

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/narrata/internal/resilience"
	"github.com/MrWong99/narrata/pkg/audio"
)

// DefaultFetchTimeout bounds a single track fetch.
const DefaultFetchTimeout = 15 * time.Second

// DecodeFunc decodes a complete audio stream. name is a file name hint used
// to pick the codec.
type DecodeFunc func(r io.Reader, name string) (audio.Buffer, error)

// errNotFound marks a track that does not exist. It does not count against
// the host's circuit breaker.
var errNotFound = errors.New("not found")

// FileLoader resolves a track's source URL, which may be http(s), file:// or
// a plain path, and decodes it. Decoded buffers are cached by URL and
// concurrent loads of the same URL share one fetch. Remote fetches go through
// one circuit breaker per host.
type FileLoader struct {
	decode   DecodeFunc
	client   *http.Client
	timeout  time.Duration
	breaker  resilience.Config
	breakers *resilience.Group

	flight singleflight.Group

	mu    sync.Mutex
	cache map[string]audio.Buffer
}

// LoaderOption configures a [FileLoader].
type LoaderOption func(*FileLoader)

// WithHTTPClient replaces [http.DefaultClient].
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *FileLoader) { l.client = c }
}

// WithFetchTimeout bounds each fetch, however many callers share it.
func WithFetchTimeout(d time.Duration) LoaderOption {
	return func(l *FileLoader) { l.timeout = d }
}

// WithBreaker configures the per-host circuit breakers. Missing tracks and
// cancelled fetches never count as failures unless cfg.IsFailure says so.
func WithBreaker(cfg resilience.Config) LoaderOption {
	return func(l *FileLoader) { l.breaker = cfg }
}

// NewFileLoader creates a loader that decodes with decode.
func NewFileLoader(decode DecodeFunc, opts ...LoaderOption) *FileLoader {
	l := &FileLoader{
		decode:  decode,
		client:  http.DefaultClient,
		timeout: DefaultFetchTimeout,
		cache:   make(map[string]audio.Buffer),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.breaker.IsFailure == nil {
		l.breaker.IsFailure = func(err error) bool {
			return !errors.Is(err, errNotFound) && !errors.Is(err, context.Canceled)
		}
	}
	l.breakers = resilience.NewGroup(l.breaker)
	return l
}

// Load implements [Loader].
func (l *FileLoader) Load(ctx context.Context, track Track) (audio.Buffer, error) {
	if track.SourceURL == "" {
		return nil, fmt.Errorf("background: track %q has no source", track.ID)
	}
	key := track.SourceURL

	l.mu.Lock()
	buf, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		return buf, nil
	}

	// The shared fetch outlives any single caller; each caller only stops
	// waiting when its own ctx ends.
	ch := l.flight.DoChan(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if l.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, l.timeout)
			defer cancel()
		}
		buf, err := l.fetch(fctx, key)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[key] = buf
		l.mu.Unlock()
		return buf, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("background: load %q: %w", track.ID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(audio.Buffer), nil
	}
}

// Breakers reports the state of the per-host circuit breakers.
func (l *FileLoader) Breakers() map[string]resilience.State {
	return l.breakers.States()
}

// Forget drops a cached buffer so the next Load fetches it again.
func (l *FileLoader) Forget(sourceURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, sourceURL)
}

func (l *FileLoader) fetch(ctx context.Context, raw string) (audio.Buffer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("background: parse source %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		var buf audio.Buffer
		err := l.breakers.Execute(ctx, u.Host, func(ctx context.Context) error {
			var ferr error
			buf, ferr = l.fetchHTTP(ctx, u)
			return ferr
		})
		return buf, err
	case "file":
		return l.openFile(u.Path)
	case "":
		return l.openFile(raw)
	default:
		return nil, fmt.Errorf("background: unsupported source scheme %q", u.Scheme)
	}
}

func (l *FileLoader) fetchHTTP(ctx context.Context, u *url.URL) (audio.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("background: build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("background: fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("background: fetch %s: %w", u.Redacted(), errNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("background: fetch %s: unexpected status %s", u.Redacted(), resp.Status)
	}
	buf, err := l.decode(resp.Body, path.Base(u.Path))
	if err != nil {
		return nil, fmt.Errorf("background: decode %s: %w", u.Redacted(), err)
	}
	return buf, nil
}

func (l *FileLoader) openFile(p string) (audio.Buffer, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("background: open %q: %w", p, err)
	}
	defer f.Close()
	buf, err := l.decode(f, filepath.Base(p))
	if err != nil {
		return nil, fmt.Errorf("background: decode %q: %w", p, err)
	}
	return buf, nil
}
