// Package observe provides application-wide observability primitives for
// Sensai: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Alongside the OTel instruments, [Stats] keeps plain in-process counters so
// the router can expose a synchronous snapshot accessor.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sensai metrics.
const meterName = "github.com/MrWong99/sensai"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TierDuration tracks per-tier processing latency. Use with attribute:
	//   attribute.String("tier", ...)
	TierDuration metric.Float64Histogram

	// TierRequests counts tier invocations. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("status", ...)
	TierRequests metric.Int64Counter

	// TierFailures counts tier failures by kind. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("kind", ...)
	TierFailures metric.Int64Counter

	// TierRetries counts model-call retries. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("attempt", ...)
	TierRetries metric.Int64Counter

	// TierFallbacks counts cascade hops. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	TierFallbacks metric.Int64Counter

	// CacheEvents counts local-model cache activity. Use with attributes:
	//   attribute.String("layer", "memory"|"disk"), attribute.String("result", "hit"|"miss")
	CacheEvents metric.Int64Counter

	// QuotaRejections counts ledger admission denials.
	QuotaRejections metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Tier1 is
// sub-millisecond; remote calls can run to tens of seconds.
var latencyBuckets = []float64{
	0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TierDuration, err = m.Float64Histogram("sensai.tier.duration",
		metric.WithDescription("Per-tier request processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TierRequests, err = m.Int64Counter("sensai.tier.requests",
		metric.WithDescription("Total tier invocations by tier and status."),
	); err != nil {
		return nil, err
	}
	if met.TierFailures, err = m.Int64Counter("sensai.tier.failures",
		metric.WithDescription("Total tier failures by tier and error kind."),
	); err != nil {
		return nil, err
	}
	if met.TierRetries, err = m.Int64Counter("sensai.tier.retries",
		metric.WithDescription("Total model-call retries by tier and attempt."),
	); err != nil {
		return nil, err
	}
	if met.TierFallbacks, err = m.Int64Counter("sensai.tier.fallbacks",
		metric.WithDescription("Total cascade hops by source and destination tier."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvents, err = m.Int64Counter("sensai.cache.events",
		metric.WithDescription("Local-model cache lookups by layer and result."),
	); err != nil {
		return nil, err
	}
	if met.QuotaRejections, err = m.Int64Counter("sensai.quota.rejections",
		metric.WithDescription("Usage-ledger admission denials."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sensai.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordTierRequest records one tier invocation with its outcome and latency.
func (m *Metrics) RecordTierRequest(ctx context.Context, tier, status string, duration time.Duration) {
	m.TierRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("status", status),
	))
	m.TierDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("tier", tier),
	))
}

// RecordTierFailure records one tier failure by error kind.
func (m *Metrics) RecordTierFailure(ctx context.Context, tier, kind string) {
	m.TierFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("kind", kind),
	))
}

// RecordTierRetry records one retry of a tier's model call.
func (m *Metrics) RecordTierRetry(ctx context.Context, tier string, attempt int) {
	m.TierRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("attempt", strconv.Itoa(attempt)),
	))
}

// RecordTierFallback records one cascade hop from one tier to another.
func (m *Metrics) RecordTierFallback(ctx context.Context, from, to string) {
	m.TierFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordCacheEvent records one cache lookup outcome.
func (m *Metrics) RecordCacheEvent(ctx context.Context, layer, result string) {
	m.CacheEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("layer", layer),
		attribute.String("result", result),
	))
}
