package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddlewareFixture wires a manual metric reader and an in-memory span
// exporter so tests can inspect everything the middleware emits.
func newMiddlewareFixture(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return m, reader, exp
}

// serve runs one request through the middleware-wrapped handler.
func serve(m *Metrics, path string, h http.HandlerFunc) *httptest.ResponseRecorder {
	handler := Middleware(m)(h)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := newMiddlewareFixture(t)

	var cid string
	rec := serve(m, "/v1/companion", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-char trace ID", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID header = %q, want %q", got, cid)
	}
}

func TestMiddleware_CreatesServerSpan(t *testing.T) {
	m, _, exp := newMiddlewareFixture(t)

	serve(m, "/v1/voices", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	if spans[0].Name != "HTTP GET /v1/voices" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := newMiddlewareFixture(t)

	serve(m, "/v1/providers", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "koemi.http.request.duration")
	if met == nil {
		t.Fatal("koemi.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("unexpected metric shape: %#v", met.Data)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/v1/providers"}
	for _, kv := range dp.Attributes.ToSlice() {
		if expect, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == expect {
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing attributes: %v", want)
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, _, exp := newMiddlewareFixture(t)

	rec := serve(m, "/v1/nope", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			if a.Value.AsInt64() != 404 {
				t.Errorf("status attribute = %d, want 404", a.Value.AsInt64())
			}
			return
		}
	}
	t.Error("span missing http.response.status_code attribute")
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := newMiddlewareFixture(t)
	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"

	var cid string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if cid != upstream {
		t.Errorf("correlation ID = %q, want upstream trace %q", cid, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}
