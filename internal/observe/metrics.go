// Package observe provides application-wide observability primitives for
// Gymmando: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Gymmando metrics.
const meterName = "github.com/Gymmando/gymmando"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ExtractionDuration tracks field extraction latency, LLM call included.
	ExtractionDuration metric.Float64Histogram

	// ClassificationDuration tracks intent classification latency.
	ClassificationDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end processing of a single utterance.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks raw LLM completion latency by provider.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts processed utterances. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("state", ...)
	Turns metric.Int64Counter

	// Commits counts storage writes reached by a conversation. Use with
	// attributes:
	//   attribute.String("intent", ...), attribute.String("outcome", ...)
	Commits metric.Int64Counter

	// Degradations counts turns where an LLM stage failed and the
	// conversation fell back to a re-prompt. Use with attribute:
	//   attribute.String("stage", ...)
	Degradations metric.Int64Counter

	// SessionsEnded counts finished conversations by final state.
	SessionsEnded metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts LLM provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversations.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM-backed turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ExtractionDuration, err = m.Float64Histogram("gymmando.extraction.duration",
		metric.WithDescription("Latency of field extraction from an utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassificationDuration, err = m.Float64Histogram("gymmando.classification.duration",
		metric.WithDescription("Latency of intent classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("gymmando.turn.duration",
		metric.WithDescription("End-to-end latency of a single dialogue turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("gymmando.llm.duration",
		metric.WithDescription("Latency of LLM completions by provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("gymmando.dialogue.turns",
		metric.WithDescription("Total processed utterances by intent and resulting state."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("gymmando.dialogue.commits",
		metric.WithDescription("Total storage commits by intent and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Degradations, err = m.Int64Counter("gymmando.dialogue.degradations",
		metric.WithDescription("Total turns degraded to a re-prompt by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("gymmando.sessions.ended",
		metric.WithDescription("Total finished conversations by final state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("gymmando.provider.errors",
		metric.WithDescription("Total LLM provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("gymmando.active_sessions",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("gymmando.http.request.duration",
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

// SessionStarted records a new live conversation.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded records a conversation reaching the given final state.
func (m *Metrics) SessionEnded(ctx context.Context, state string) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// TurnProcessed records one utterance worked through the state machine.
func (m *Metrics) TurnProcessed(ctx context.Context, intent, state string, d time.Duration) {
	m.TurnDuration.Record(ctx, d.Seconds())
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("state", state),
		),
	)
}

// CommitFinished records the single storage commit of a conversation.
func (m *Metrics) CommitFinished(ctx context.Context, intent, outcome string) {
	m.Commits.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("outcome", outcome),
		),
	)
}

// Degradation records an LLM stage failure that fell back to a re-prompt.
func (m *Metrics) Degradation(ctx context.Context, stage string) {
	m.Degradations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordProviderError records an LLM provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
