package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
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

// sumValueFor returns the data-point value whose attribute set contains
// key=value, or -1 when absent.
func sumValueFor(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTierRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTierRequest(ctx, "tier2", "success", 120*time.Millisecond)
	m.RecordTierRequest(ctx, "tier2", "success", 80*time.Millisecond)
	m.RecordTierRequest(ctx, "tier2", "failure", 10*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "sensai.tier.requests")
	if met == nil {
		t.Fatal("tier requests metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueFor(sum, "status", "success"); got != 2 {
		t.Errorf("success count = %d, want 2", got)
	}

	durMet := findMetric(rm, "sensai.tier.duration")
	if durMet == nil {
		t.Fatal("tier duration metric not found")
	}
	hist, ok := durMet.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("duration sample count = %d, want 3", got)
	}
}

func TestRecordTierFallback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTierFallback(ctx, "tier2", "tier1")

	rm := collect(t, reader)
	met := findMetric(rm, "sensai.tier.fallbacks")
	if met == nil {
		t.Fatal("fallback metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueFor(sum, "from", "tier2"); got != 1 {
		t.Errorf("fallback count = %d, want 1", got)
	}
}

func TestRecordTierRetry(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTierRetry(ctx, "tier3", 1)
	m.RecordTierRetry(ctx, "tier3", 2)

	rm := collect(t, reader)
	met := findMetric(rm, "sensai.tier.retries")
	if met == nil {
		t.Fatal("retry metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueFor(sum, "attempt", "1"); got != 1 {
		t.Errorf("attempt-1 count = %d, want 1", got)
	}
}

func TestRecordCacheEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheEvent(ctx, "memory", "hit")
	m.RecordCacheEvent(ctx, "memory", "hit")
	m.RecordCacheEvent(ctx, "disk", "miss")

	rm := collect(t, reader)
	met := findMetric(rm, "sensai.cache.events")
	if met == nil {
		t.Fatal("cache metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueFor(sum, "layer", "disk"); got != 1 {
		t.Errorf("disk event count = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(Attr("method", "POST"), Attr("path", "/ask")),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "sensai.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

func TestStats_Snapshot(t *testing.T) {
	s := NewStats()
	s.Request("tier2")
	s.Request("tier2")
	s.Success("tier2", 100*time.Millisecond)
	s.Success("tier2", 300*time.Millisecond)
	s.Failure("tier2", "connection")
	s.Retry("tier2", 1)
	s.Fallback("tier2", "tier1")

	snap := s.Snapshot()
	if snap.Requests["tier2"] != 2 {
		t.Errorf("requests = %d, want 2", snap.Requests["tier2"])
	}
	if snap.Failures["tier2"]["connection"] != 1 {
		t.Errorf("failures = %v", snap.Failures)
	}
	if snap.Retries["tier2"][1] != 1 {
		t.Errorf("retries = %v", snap.Retries)
	}
	if snap.Fallbacks["tier2_to_tier1"] != 1 {
		t.Errorf("fallbacks = %v", snap.Fallbacks)
	}
	if snap.MeanResponseMS["tier2"] != 200 {
		t.Errorf("mean latency = %v, want 200", snap.MeanResponseMS["tier2"])
	}

	// Snapshots are copies, not views.
	s.Request("tier2")
	if snap.Requests["tier2"] != 2 {
		t.Error("snapshot mutated by later writes")
	}
}
