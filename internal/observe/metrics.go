// Package observe provides application-wide observability primitives for
// Koemi: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Koemi metrics.
const meterName = "github.com/hikaru-dev/koemi"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks wall time from turn start to its terminal status.
	// Use with attribute:
	//   attribute.String("status", ...)
	TurnDuration metric.Float64Histogram

	// FirstChunkLatency tracks the time from stream_start to the first
	// synthesis-ready chunk of a turn. This is the perceived voice latency.
	FirstChunkLatency metric.Float64Histogram

	// --- Counters ---

	// TurnsStarted counts conversational turns by start kind. Use with attribute:
	//   attribute.String("kind", "chat"|"superseding")
	TurnsStarted metric.Int64Counter

	// TurnsFinished counts terminal turns. Use with attribute:
	//   attribute.String("status", "completed"|"interrupted"|"failed")
	TurnsFinished metric.Int64Counter

	// TTSChunks counts synthesis-ready chunks emitted to clients.
	TTSChunks metric.Int64Counter

	// ToolCalls counts agent tool invocations observed in the stream. Use
	// with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// ProtocolErrors counts rejected inbound messages by reason. Use with attribute:
	//   attribute.String("reason", ...)
	ProtocolErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of authorized live connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveTurns tracks the number of turns currently streaming.
	ActiveTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational streaming latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// instruments builds metric instruments against one meter, remembering the
// first creation error so call sites stay linear.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) latencyHistogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *instruments) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return g
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}

	met := &Metrics{
		TurnDuration: b.latencyHistogram("koemi.turn.duration",
			"Wall time from turn start to terminal status."),
		FirstChunkLatency: b.latencyHistogram("koemi.turn.first_chunk_latency",
			"Time from stream start to first synthesis-ready chunk."),

		TurnsStarted: b.counter("koemi.turns.started",
			"Total conversational turns started, by kind."),
		TurnsFinished: b.counter("koemi.turns.finished",
			"Total turns reaching a terminal status, by status."),
		TTSChunks: b.counter("koemi.tts.chunks",
			"Total synthesis-ready chunks emitted to clients."),
		ToolCalls: b.counter("koemi.tool.calls",
			"Total agent tool invocations by tool name and status."),
		ProtocolErrors: b.counter("koemi.ws.protocol_errors",
			"Total rejected inbound messages by reason."),

		ActiveConnections: b.gauge("koemi.active_connections",
			"Number of authorized live connections."),
		ActiveTurns: b.gauge("koemi.active_turns",
			"Number of turns currently streaming."),

		// Default buckets; request latency is not on the voice path.
		HTTPRequestDuration: b.histogram("koemi.http.request.duration",
			"HTTP request latency by method and path."),
	}

	if b.err != nil {
		return nil, b.err
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

// RecordTurnStarted is a convenience method that records a started turn and
// bumps the live-turn gauge.
func (m *Metrics) RecordTurnStarted(ctx context.Context, kind string) {
	m.TurnsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	m.ActiveTurns.Add(ctx, 1)
}

// RecordTurnFinished is a convenience method that records a terminal turn
// with its duration and releases the live-turn gauge.
func (m *Metrics) RecordTurnFinished(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TurnsFinished.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
	m.ActiveTurns.Add(ctx, -1)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProtocolError is a convenience method that records a rejected
// inbound message counter increment.
func (m *Metrics) RecordProtocolError(ctx context.Context, reason string) {
	m.ProtocolErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
