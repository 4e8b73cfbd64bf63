// Package observe provides application-wide observability primitives for
// the voice bridge, relay, and backend services: OpenTelemetry metrics,
// distributed tracing, structured logging with audio redaction, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/ghostengineai/glyphonic"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech-to-text subprocess invocation latency.
	ASRDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech subprocess invocation latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency, commit to
	// response_completed.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsStarted counts turns entering the in-flight state.
	TurnsStarted metric.Int64Counter

	// TurnsCompleted counts turns that finished, by outcome (ok, empty,
	// asr_error, llm_error).
	TurnsCompleted metric.Int64Counter

	// ASRInvocations counts ASR subprocess invocations by outcome
	// (ok, error).
	ASRInvocations metric.Int64Counter

	// TTSInvocations counts TTS subprocess invocations by outcome.
	TTSInvocations metric.Int64Counter

	// PreReadyQueueOverflows counts frames dropped from a pre-ready send
	// queue due to the bounded-FIFO overflow policy.
	PreReadyQueueOverflows metric.Int64Counter

	// BargeInEvents counts VAD-detected barge-in interrupts.
	BargeInEvents metric.Int64Counter

	// --- Gauges ---

	// ActiveCallSessions tracks the number of live telephony bridge
	// sessions.
	ActiveCallSessions metric.Int64UpDownCounter

	// ActiveBackendSessions tracks the number of live backend sessions.
	ActiveBackendSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.ASRDuration, err = m.Float64Histogram("bridge.asr.duration",
		metric.WithDescription("Latency of ASR subprocess invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("bridge.tts.duration",
		metric.WithDescription("Latency of TTS subprocess invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("bridge.turn.duration",
		metric.WithDescription("End-to-end turn latency from commit to response_completed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsStarted, err = m.Int64Counter("bridge.turns.started",
		metric.WithDescription("Total turns entering the in-flight state."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("bridge.turns.completed",
		metric.WithDescription("Total turns finished, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ASRInvocations, err = m.Int64Counter("bridge.asr.invocations",
		metric.WithDescription("Total ASR subprocess invocations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TTSInvocations, err = m.Int64Counter("bridge.tts.invocations",
		metric.WithDescription("Total TTS subprocess invocations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PreReadyQueueOverflows, err = m.Int64Counter("bridge.preready_queue.overflows",
		metric.WithDescription("Total frames dropped from a pre-ready send queue."),
	); err != nil {
		return nil, err
	}
	if met.BargeInEvents, err = m.Int64Counter("bridge.bargein.events",
		metric.WithDescription("Total VAD-detected barge-in interrupts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCallSessions, err = m.Int64UpDownCounter("bridge.active_call_sessions",
		metric.WithDescription("Number of live telephony bridge sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBackendSessions, err = m.Int64UpDownCounter("bridge.active_backend_sessions",
		metric.WithDescription("Number of live backend sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("bridge.http.request.duration",
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

// RecordTurnStarted is a convenience method for the turns-started counter.
func (m *Metrics) RecordTurnStarted(ctx context.Context) {
	m.TurnsStarted.Add(ctx, 1)
}

// RecordTurnCompleted is a convenience method that records a turn
// completion with its outcome (ok, empty, asr_error, llm_error).
func (m *Metrics) RecordTurnCompleted(ctx context.Context, outcome string) {
	m.TurnsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordASRInvocation is a convenience method that records an ASR
// subprocess invocation outcome (ok, error).
func (m *Metrics) RecordASRInvocation(ctx context.Context, outcome string) {
	m.ASRInvocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTTSInvocation is a convenience method that records a TTS
// subprocess invocation outcome.
func (m *Metrics) RecordTTSInvocation(ctx context.Context, outcome string) {
	m.TTSInvocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPreReadyQueueOverflow is a convenience method that records a
// dropped-on-overflow event for a named pre-ready queue (bridge, relay).
func (m *Metrics) RecordPreReadyQueueOverflow(ctx context.Context, queue string) {
	m.PreReadyQueueOverflows.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordBargeIn is a convenience method that records a barge-in interrupt.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeInEvents.Add(ctx, 1)
}
