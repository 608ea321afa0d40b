package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestTimingBuildDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TimingBuildDuration.Record(ctx, 0.0002)
	m.TimingBuildDuration.Record(ctx, 0.0004)

	rm := collect(t, reader)
	met := findMetric(rm, "narrata.timing.build.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

// sumFor returns the value of the data point carrying key=value, or -1.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestPlaybackCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PlaybackLoads.Add(ctx, 1)
	m.PlaybackLoads.Add(ctx, 1)
	m.PlaybackCompletions.Add(ctx, 1)
	m.PlaybackSeeks.Add(ctx, 3)
	m.UnlockFailures.Add(ctx, 1)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"narrata.playback.loads", 2},
		{"narrata.playback.completions", 1},
		{"narrata.playback.seeks", 3},
		{"narrata.unlock.failures", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, "", ""); got != tc.want {
				t.Errorf("counter value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPlaybackErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlaybackError(ctx, "platform_unavailable")
	m.RecordPlaybackError(ctx, "platform_unavailable")
	m.RecordPlaybackError(ctx, "decode")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "narrata.playback.errors", "kind", "platform_unavailable"); got != 2 {
		t.Errorf("platform_unavailable = %d, want 2", got)
	}
	if got := sumFor(t, rm, "narrata.playback.errors", "kind", "decode"); got != 1 {
		t.Errorf("decode = %d, want 1", got)
	}
}

func TestBackgroundCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBackgroundStart(ctx, "nature")
	m.RecordBackgroundError(ctx, "load")
	m.RecordBackgroundError(ctx, "play_blocked")
	m.RecordBackgroundError(ctx, "load")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "narrata.background.starts", "category", "nature"); got != 1 {
		t.Errorf("starts{nature} = %d, want 1", got)
	}
	if got := sumFor(t, rm, "narrata.background.errors", "reason", "load"); got != 2 {
		t.Errorf("errors{load} = %d, want 2", got)
	}
	if got := sumFor(t, rm, "narrata.background.errors", "reason", "play_blocked"); got != 1 {
		t.Errorf("errors{play_blocked} = %d, want 1", got)
	}
}

func TestActivePlaybackGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive: start, stop, start again.
	m.ActivePlayback.Add(ctx, 1)
	m.ActivePlayback.Add(ctx, -1)
	m.ActivePlayback.Add(ctx, 1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "narrata.playback.active", "", ""); got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
