// Package observe provides application-wide observability primitives for
// Lexicdys: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lexicdys metrics.
const meterName = "github.com/MrWong99/lexicdys"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RecognitionDuration tracks how long a recognition stream stays open.
	// Use with attribute:
	//   attribute.String("content_type", ...)
	RecognitionDuration metric.Float64Histogram

	// TimeToComplete tracks the time from the start of listening to a
	// perfect score. Use with attribute:
	//   attribute.String("content_type", ...)
	TimeToComplete metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts speech provider stream starts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ItemsCompleted counts practice items completed by the learner. Use with
	// attribute:
	//   attribute.String("content_type", ...)
	ItemsCompleted metric.Int64Counter

	// ItemsSkipped counts items left without completion via next or restart.
	ItemsSkipped metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts recognition failures reported to learners. Use
	// with attributes:
	//   attribute.String("provider", ...), attribute.String("category", ...)
	ProviderErrors metric.Int64Counter

	// ProgressWriteFailures counts progress records that could not be stored.
	ProgressWriteFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveDrills tracks the number of connected practice drills.
	ActiveDrills metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open recognition streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// learner-paced speech: a single word takes about a second, a sentence can
// take half a minute.
var latencyBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("lexicdys.recognition.duration",
		metric.WithDescription("Lifetime of speech recognition streams."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TimeToComplete, err = m.Float64Histogram("lexicdys.practice.time_to_complete",
		metric.WithDescription("Time from the start of listening to a completed item."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("lexicdys.provider.requests",
		metric.WithDescription("Total speech provider stream starts by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ItemsCompleted, err = m.Int64Counter("lexicdys.practice.completed",
		metric.WithDescription("Total practice items completed by content type."),
	); err != nil {
		return nil, err
	}
	if met.ItemsSkipped, err = m.Int64Counter("lexicdys.practice.skipped",
		metric.WithDescription("Total practice items left without completion by content type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("lexicdys.provider.errors",
		metric.WithDescription("Total recognition failures by provider and category."),
	); err != nil {
		return nil, err
	}
	if met.ProgressWriteFailures, err = m.Int64Counter("lexicdys.progress.write_failures",
		metric.WithDescription("Total progress records that could not be stored."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveDrills, err = m.Int64UpDownCounter("lexicdys.active_drills",
		metric.WithDescription("Number of connected practice drills."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("lexicdys.active_streams",
		metric.WithDescription("Number of open speech recognition streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lexicdys.http.request.duration",
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

// RecordProviderRequest records a stream start against provider.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a recognition failure reported to a learner.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, category string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("category", category),
		),
	)
}

// RecordCompletion records a completed item and how long the learner needed.
func (m *Metrics) RecordCompletion(ctx context.Context, contentType string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("content_type", contentType))
	m.ItemsCompleted.Add(ctx, 1, attrs)
	m.TimeToComplete.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSkip records an item left without completion.
func (m *Metrics) RecordSkip(ctx context.Context, contentType string) {
	m.ItemsSkipped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("content_type", contentType)),
	)
}

// RecordProgressFailure records a progress record that could not be stored.
func (m *Metrics) RecordProgressFailure(ctx context.Context, contentType string) {
	m.ProgressWriteFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("content_type", contentType)),
	)
}

// RecordStream records the lifetime of a finished recognition stream.
func (m *Metrics) RecordStream(ctx context.Context, contentType string, lifetime time.Duration) {
	m.RecognitionDuration.Record(ctx, lifetime.Seconds(),
		metric.WithAttributes(attribute.String("content_type", contentType)),
	)
}
