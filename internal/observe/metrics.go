// Package observe provides observability primitives for personaset:
// OpenTelemetry metrics, tracing, trace-aware structured logging and a small
// HTTP server that exposes the metrics for Prometheus scraping.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus registry and [NewServer] serves that registry
// on /metrics. A package-level [DefaultMetrics] instance is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all personaset metrics.
const meterName = "github.com/MrWong99/personaset"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use.
type Metrics struct {
	// CleaningDuration tracks the latency of a single cleaner call. Attributes:
	//   attribute.String("turn", ...), attribute.String("status", ...)
	CleaningDuration metric.Float64Histogram

	// CleaningCalls counts cleaner calls by turn and status.
	CleaningCalls metric.Int64Counter

	// CleaningInFlight tracks the number of cleaner calls currently running.
	CleaningInFlight metric.Int64UpDownCounter

	// ProviderRequests counts LLM provider calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts LLM provider failures by provider.
	ProviderErrors metric.Int64Counter

	// RecordsPaired counts records emitted by the pairing engine.
	RecordsPaired metric.Int64Counter

	// LinesSkipped counts malformed transcript lines. Attribute:
	//   attribute.String("reason", ...)
	LinesSkipped metric.Int64Counter

	// RecordsPublished counts records written to a sink. Attribute:
	//   attribute.String("sink", ...)
	RecordsPublished metric.Int64Counter

	// HTTPRequestDuration tracks metrics-server request time.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote model round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CleaningDuration, err = m.Float64Histogram("personaset.cleaning.duration",
		metric.WithDescription("Latency of a single turn cleaning call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CleaningCalls, err = m.Int64Counter("personaset.cleaning.calls",
		metric.WithDescription("Total turn cleaning calls by turn and status."),
	); err != nil {
		return nil, err
	}
	if met.CleaningInFlight, err = m.Int64UpDownCounter("personaset.cleaning.in_flight",
		metric.WithDescription("Number of cleaning calls currently running."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("personaset.provider.requests",
		metric.WithDescription("Total LLM provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("personaset.provider.errors",
		metric.WithDescription("Total LLM provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.RecordsPaired, err = m.Int64Counter("personaset.pairing.records",
		metric.WithDescription("Total records emitted by the pairing engine."),
	); err != nil {
		return nil, err
	}
	if met.LinesSkipped, err = m.Int64Counter("personaset.pairing.skipped",
		metric.WithDescription("Total malformed transcript lines skipped by reason."),
	); err != nil {
		return nil, err
	}
	if met.RecordsPublished, err = m.Int64Counter("personaset.publish.records",
		metric.WithDescription("Total records written by sink."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("personaset.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it only after
// [InitProvider] if the metrics should reach the Prometheus exporter.
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

// RecordCleaningCall records the latency and outcome of one cleaner call.
func (m *Metrics) RecordCleaningCall(ctx context.Context, turn, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("turn", turn),
		attribute.String("status", status),
	)
	m.CleaningDuration.Record(ctx, d.Seconds(), attrs)
	m.CleaningCalls.Add(ctx, 1, attrs)
}

// RecordProviderRequest records one LLM provider request.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one LLM provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordPairing records the size of a pairing pass.
func (m *Metrics) RecordPairing(ctx context.Context, paired int, skippedByReason map[string]int) {
	m.RecordsPaired.Add(ctx, int64(paired))
	for reason, n := range skippedByReason {
		m.LinesSkipped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordPublished records n records written to sink.
func (m *Metrics) RecordPublished(ctx context.Context, sink string, n int) {
	m.RecordsPublished.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("sink", sink)),
	)
}
