// Package observe provides application-wide observability primitives for
// narrata: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all narrata metrics.
const meterName = "github.com/MrWong99/narrata"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TimingBuildDuration tracks how long building a timing map takes.
	TimingBuildDuration metric.Float64Histogram

	// --- Counters ---

	// PlaybackLoads counts successful voice loads.
	PlaybackLoads metric.Int64Counter

	// PlaybackCompletions counts playbacks that reached their natural end.
	PlaybackCompletions metric.Int64Counter

	// PlaybackSeeks counts seek operations.
	PlaybackSeeks metric.Int64Counter

	// BackgroundStarts counts background tracks that began playing. Use with
	// attribute:
	//   attribute.String("category", ...)
	BackgroundStarts metric.Int64Counter

	// --- Error counters ---

	// PlaybackErrors counts voice-path failures. Use with attribute:
	//   attribute.String("kind", ...)
	PlaybackErrors metric.Int64Counter

	// UnlockFailures counts clocks that could not be resumed.
	UnlockFailures metric.Int64Counter

	// BackgroundErrors counts background failures. Use with attribute:
	//   attribute.String("reason", ...)
	BackgroundErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePlayback is 1 while a voice source is playing.
	ActivePlayback metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// buildBuckets defines histogram bucket boundaries (in seconds) for timing
// map construction, which is sub-millisecond for typical scripts.
var buildBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TimingBuildDuration, err = m.Float64Histogram("narrata.timing.build.duration",
		metric.WithDescription("Time spent building a word timing map."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buildBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PlaybackLoads, err = m.Int64Counter("narrata.playback.loads",
		metric.WithDescription("Total voice buffers loaded for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackCompletions, err = m.Int64Counter("narrata.playback.completions",
		metric.WithDescription("Total playbacks that reached their natural end."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSeeks, err = m.Int64Counter("narrata.playback.seeks",
		metric.WithDescription("Total seek operations."),
	); err != nil {
		return nil, err
	}
	if met.BackgroundStarts, err = m.Int64Counter("narrata.background.starts",
		metric.WithDescription("Total background tracks started by category."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PlaybackErrors, err = m.Int64Counter("narrata.playback.errors",
		metric.WithDescription("Total voice playback failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.UnlockFailures, err = m.Int64Counter("narrata.unlock.failures",
		metric.WithDescription("Total audio clocks that could not be resumed."),
	); err != nil {
		return nil, err
	}
	if met.BackgroundErrors, err = m.Int64Counter("narrata.background.errors",
		metric.WithDescription("Total background track failures by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePlayback, err = m.Int64UpDownCounter("narrata.playback.active",
		metric.WithDescription("Number of voice sources currently playing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("narrata.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPlaybackError records a voice-path failure of the given kind.
func (m *Metrics) RecordPlaybackError(ctx context.Context, kind string) {
	m.PlaybackErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBackgroundError records a background failure for the given reason.
func (m *Metrics) RecordBackgroundError(ctx context.Context, reason string) {
	m.BackgroundErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBackgroundStart records a background track starting.
func (m *Metrics) RecordBackgroundStart(ctx context.Context, category string) {
	m.BackgroundStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}
