// Package observe provides application-wide observability primitives for
// airtime: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Init] bridges
// them into the default Prometheus registry so they can be scraped via the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all airtime metrics.
const meterName = "github.com/spokelab/airtime"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DiarizationDuration tracks wall-clock time from job submission to the
	// terminal result being applied, by outcome.
	DiarizationDuration metric.Float64Histogram

	// ReconcileDuration tracks the in-process reconciliation compute time.
	ReconcileDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts diarization provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("operation", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("operation", ...)
	ProviderErrors metric.Int64Counter

	// JobResults counts terminal job results applied to the session. Use with attributes:
	//   attribute.String("outcome", ...), attribute.String("source", "webhook"|"poll")
	JobResults metric.Int64Counter

	// WebhookDeliveries counts webhook intake POSTs by disposition. Use with attribute:
	//   attribute.String("disposition", "applied"|"duplicate"|"unknown_job"|"invalid")
	WebhookDeliveries metric.Int64Counter

	// --- Gauges ---

	// KnownIdentities tracks the number of persistent speaker identities.
	KnownIdentities metric.Int64UpDownCounter

	// BufferedAudioBytes tracks the size of the accumulated audio buffer.
	BufferedAudioBytes metric.Int64UpDownCounter

	// StreamSubscribers tracks connected websocket snapshot subscribers.
	StreamSubscribers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// in-process and HTTP latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// jobBuckets defines histogram bucket boundaries (in seconds) for diarization
// jobs, which run for seconds to minutes on the provider side.
var jobBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DiarizationDuration, err = m.Float64Histogram("airtime.diarization.duration",
		metric.WithDescription("Time from diarization job submission to the terminal result being applied."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReconcileDuration, err = m.Float64Histogram("airtime.reconcile.duration",
		metric.WithDescription("In-process identity reconciliation compute time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("airtime.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("airtime.provider.requests",
		metric.WithDescription("Total diarization provider requests by provider, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("airtime.provider.errors",
		metric.WithDescription("Total diarization provider errors by provider and operation."),
	); err != nil {
		return nil, err
	}
	if met.JobResults, err = m.Int64Counter("airtime.job.results",
		metric.WithDescription("Terminal diarization job results applied, by outcome and delivery source."),
	); err != nil {
		return nil, err
	}
	if met.WebhookDeliveries, err = m.Int64Counter("airtime.webhook.deliveries",
		metric.WithDescription("Webhook intake POSTs by disposition."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.KnownIdentities, err = m.Int64UpDownCounter("airtime.known_identities",
		metric.WithDescription("Number of persistent speaker identities."),
	); err != nil {
		return nil, err
	}
	if met.BufferedAudioBytes, err = m.Int64UpDownCounter("airtime.audio.buffered_bytes",
		metric.WithDescription("Bytes of audio accumulated in the session buffer."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.StreamSubscribers, err = m.Int64UpDownCounter("airtime.stream.subscribers",
		metric.WithDescription("Connected websocket snapshot subscribers."),
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, operation, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, operation string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
		),
	)
}

// RecordJobResult records the application of one terminal job result.
func (m *Metrics) RecordJobResult(ctx context.Context, outcome, source string) {
	m.JobResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		),
	)
}

// RecordWebhookDelivery records one webhook intake POST by disposition.
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, disposition string) {
	m.WebhookDeliveries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("disposition", disposition)),
	)
}
