package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func inMemoryTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	tp, _ := inMemoryTracer(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "turn")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID %q, want 32 hex chars", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q contains non-hex characters", cid)
	}
}

func TestCorrelationID_UniquePerTrace(t *testing.T) {
	tp, _ := inMemoryTracer(t)
	tracer := tp.Tracer("test")

	seen := make(map[string]struct{}, 100)
	for range 100 {
		ctx, span := tracer.Start(context.Background(), "turn")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestStartSpan(t *testing.T) {
	tp, exp := inMemoryTracer(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "synthesize chunk")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "synthesize chunk" {
		t.Fatalf("recorded spans = %+v", spans)
	}
}

func TestLogger_WithAndWithoutSpan(t *testing.T) {
	tp, _ := inMemoryTracer(t)

	buf := captureLogs(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "turn")
	Logger(ctx).Info("chunk dispatched")
	span.End()

	if out := buf.String(); !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("traced log missing trace/span IDs: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("startup")
	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("untraced log should carry no trace_id: %s", out)
	}
}

func TestTracer(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() returned nil")
	}
}
