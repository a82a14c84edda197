package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	Exporter *tracetest.InMemoryExporter
	Reader   *sdkmetric.ManualReader
}

// NewTestTelemetry creates telemetry with in-memory exporters. Spans are
// exported synchronously as they end.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t := &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: tp,
			meterProvider:  mp,
		},
		Exporter: exporter,
		Reader:   reader,
	}
	t.healthy.Store(true)
	return t
}

// Install makes the test providers the OpenTelemetry globals and returns a
// function restoring the previous ones.
func (t *TestTelemetry) Install() func() {
	prevTP := otel.GetTracerProvider()
	prevMP := otel.GetMeterProvider()
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	return func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() tracetest.SpanStubs {
	return t.Exporter.GetSpans()
}

// SpansByName returns the ended spans with the given name, in end order.
func (t *TestTelemetry) SpansByName(name string) tracetest.SpanStubs {
	var out tracetest.SpanStubs
	for _, s := range t.Spans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// AssertSpanExists verifies a span with the given name was recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if len(t.SpansByName(name)) == 0 {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies the last span with the name has the attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key string, expected any) {
	tb.Helper()
	spans := t.SpansByName(spanName)
	if len(spans) == 0 {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range spans[len(spans)-1].Attributes {
		if string(attr.Key) == key {
			if got := attrValue(attr.Value); got != expected {
				tb.Errorf("span %q attribute %q: got %v (%T), want %v (%T)", spanName, key, got, got, expected, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	return names
}

func attrValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// Collect gathers the current metrics keyed by instrument name.
func (t *TestTelemetry) Collect(ctx context.Context) (map[string]metricdata.Metrics, error) {
	var rm metricdata.ResourceMetrics
	if err := t.Reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out, nil
}

// Reset clears recorded spans. Metrics are cumulative and not reset.
func (t *TestTelemetry) Reset() {
	t.Exporter.Reset()
}

// InMemoryOptions returns New options that keep spans and logs in memory and
// discard metrics, so an enabled Telemetry never dials a collector. Both
// recorders keep their contents after Shutdown.
func InMemoryOptions() ([]Option, *SpanRecorder, *LogRecorder) {
	spans := &SpanRecorder{}
	logs := &LogRecorder{}
	return []Option{
		WithTraceExporter(spans),
		WithMetricExporter(&discardMetricExporter{}),
		WithLogExporter(logs),
	}, spans, logs
}

// SpanRecorder is a span exporter that keeps every exported span. Unlike
// tracetest.InMemoryExporter it is not cleared by Shutdown.
type SpanRecorder struct {
	mu    sync.Mutex
	spans tracetest.SpanStubs
}

// ExportSpans implements trace.SpanExporter.
func (r *SpanRecorder) ExportSpans(_ context.Context, spans []trace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, tracetest.SpanStubsFromReadOnlySpans(spans)...)
	return nil
}

// Shutdown implements trace.SpanExporter.
func (r *SpanRecorder) Shutdown(context.Context) error { return nil }

// Spans returns the exported spans in export order.
func (r *SpanRecorder) Spans() tracetest.SpanStubs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(tracetest.SpanStubs(nil), r.spans...)
}

// LogRecorder is a log exporter that keeps every exported record.
type LogRecorder struct {
	mu       sync.Mutex
	records  []sdklog.Record
	shutdown bool
}

// Export implements sdklog.Exporter.
func (r *LogRecorder) Export(_ context.Context, records []sdklog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.records = append(r.records, rec.Clone())
	}
	return nil
}

// Shutdown implements sdklog.Exporter.
func (r *LogRecorder) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
	return nil
}

// ForceFlush implements sdklog.Exporter.
func (r *LogRecorder) ForceFlush(context.Context) error { return nil }

// Bodies returns the string bodies of the exported records in order.
func (r *LogRecorder) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Body().AsString()
	}
	return out
}

// IsShutdown reports whether Shutdown was called.
func (r *LogRecorder) IsShutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}

type discardMetricExporter struct{}

func (*discardMetricExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return cumulative(k)
}

func (*discardMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (*discardMetricExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }
func (*discardMetricExporter) ForceFlush(context.Context) error                          { return nil }
func (*discardMetricExporter) Shutdown(context.Context) error                            { return nil }
