package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
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

// sumData fetches a named Int64 sum metric or fails the test.
func sumData(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("metric %q: want int64 sum with data, got %#v", name, met.Data)
	}
	return sum
}

// histData fetches a named float64 histogram metric or fails the test.
func histData(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Histogram[float64] {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q: want histogram with data, got %#v", name, met.Data)
	}
	return hist
}

// sumValueFor returns the data point value carrying attribute key=value,
// or -1 when absent.
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

func TestNewMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestLatencyHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for _, h := range []metric.Float64Histogram{m.TurnDuration, m.FirstChunkLatency} {
		h.Record(ctx, 0.123)
		h.Record(ctx, 0.456)
	}
	rm := collect(t, reader)

	for _, name := range []string{"koemi.turn.duration", "koemi.turn.first_chunk_latency"} {
		t.Run(name, func(t *testing.T) {
			hist := histData(t, rm, name)
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestTurnLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurnStarted(ctx, "chat")
	m.RecordTurnStarted(ctx, "chat")
	m.RecordTurnStarted(ctx, "superseding")
	m.RecordTurnFinished(ctx, "completed", 1.2)
	m.RecordTurnFinished(ctx, "interrupted", 0.3)

	rm := collect(t, reader)

	started := sumData(t, rm, "koemi.turns.started")
	if got := sumValueFor(started, "kind", "chat"); got != 2 {
		t.Errorf("turns started with kind=chat = %d, want 2", got)
	}
	if got := sumValueFor(started, "kind", "superseding"); got != 1 {
		t.Errorf("turns started with kind=superseding = %d, want 1", got)
	}

	// 3 started minus 2 finished still streaming.
	active := sumData(t, rm, "koemi.active_turns")
	if got := active.DataPoints[0].Value; got != 1 {
		t.Errorf("active turns = %d, want 1", got)
	}

	// One duration data point per terminal status.
	if hist := histData(t, rm, "koemi.turn.duration"); len(hist.DataPoints) != 2 {
		t.Errorf("duration data points = %d, want 2", len(hist.DataPoints))
	}
}

func TestToolCalls(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "memory_lookup", "started")
	m.RecordToolCall(ctx, "memory_lookup", "completed")

	sum := sumData(t, collect(t, reader), "koemi.tool.calls")
	if got := sumValueFor(sum, "status", "completed"); got != 1 {
		t.Errorf("tool calls with status=completed = %d, want 1", got)
	}
}

func TestProtocolErrors(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordProtocolError(context.Background(), "unknown_type")

	sum := sumData(t, collect(t, reader), "koemi.ws.protocol_errors")
	if got := sumValueFor(sum, "reason", "unknown_type"); got != 1 {
		t.Errorf("protocol errors = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, -1)
	m.ActiveTurns.Add(ctx, 3)

	rm := collect(t, reader)
	for _, tc := range []struct {
		name string
		want int64
	}{
		{"koemi.active_connections", 1},
		{"koemi.active_turns", 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sum := sumData(t, rm, tc.name)
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/health"),
		),
	)

	hist := histData(t, collect(t, reader), "koemi.http.request.duration")
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
