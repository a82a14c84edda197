package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())

	health := tel.Health()
	assert.True(t, health.Healthy)
	assert.False(t, health.Degraded)
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledWithSuppliedExporters(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	spans := tracetest.NewInMemoryExporter()
	logs := &LogRecorder{}

	tel, err := New(context.Background(), cfg,
		WithTraceExporter(spans),
		WithMetricExporter(&discardMetricExporter{}),
		WithLogExporter(logs),
	)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)
	require.NotNil(t, tel.LoggerProvider())

	_, span := otel.Tracer("test").Start(context.Background(), "global-span")
	span.End()

	emitLog(tel.LoggerProvider(), "hello")

	require.NoError(t, tel.ForceFlush(context.Background()))
	require.Len(t, spans.GetSpans(), 1)
	assert.Equal(t, "global-span", spans.GetSpans()[0].Name)
	assert.Equal(t, []string{"hello"}, logs.Bodies())

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
		tel.SetLoggerProvider(nil)
	})

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTelemetry_ShutdownMarksUnhealthy(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.Health().Healthy)
}

func TestTelemetry_Degraded(t *testing.T) {
	tel := &Telemetry{config: NewDefaultConfig()}
	tel.healthy.Store(true)
	tel.setDegraded("exporter failed: %v", "connection refused")

	health := tel.Health()
	assert.True(t, health.Degraded)
	assert.Equal(t, []string{"exporter failed: connection refused"}, health.Reasons)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("test").Start(ctx, "op")
	span.SetAttributes(
		attribute.String("s", "v"),
		attribute.Int("i", 3),
		attribute.Bool("b", true),
		attribute.Float64("f", 0.5),
	)
	span.End()

	tt.AssertSpanExists(t, "op")
	tt.AssertSpanAttribute(t, "op", "s", "v")
	tt.AssertSpanAttribute(t, "op", "i", int64(3))
	tt.AssertSpanAttribute(t, "op", "b", true)
	tt.AssertSpanAttribute(t, "op", "f", 0.5)
	assert.Empty(t, tt.SpansByName("missing"))

	tt.Reset()
	assert.Empty(t, tt.Spans())
}

func TestTestTelemetry_Install(t *testing.T) {
	tt := NewTestTelemetry()
	restore := tt.Install()

	_, span := otel.Tracer("global").Start(context.Background(), "through-global")
	span.End()
	restore()

	tt.AssertSpanExists(t, "through-global")
	assert.NotSame(t, tt.tracerProvider, otel.GetTracerProvider())
}

func TestTestTelemetry_Collect(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	counter, err := tt.Meter("test").Int64Counter("requests")
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 3)

	got, err := tt.Collect(ctx)
	require.NoError(t, err)
	sum, ok := got["requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(5), sum.DataPoints[0].Value)
}

func emitLog(lp otellog.LoggerProvider, body string) {
	var rec otellog.Record
	rec.SetBody(otellog.StringValue(body))
	lp.Logger("test").Emit(context.Background(), rec)
}

func TestShutdown_ExportsPendingLogs(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	opts, _, logs := InMemoryOptions()

	tel, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)

	emitLog(tel.LoggerProvider(), "window failed")
	require.NoError(t, tel.Shutdown(context.Background()))

	assert.Equal(t, []string{"window failed"}, logs.Bodies())
	assert.True(t, logs.IsShutdown())
}

func TestSetLoggerProvider_FlushedWithOthers(t *testing.T) {
	logs := &LogRecorder{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logs)))

	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	tel.SetLoggerProvider(lp)

	emitLog(tel.LoggerProvider(), "flushed")
	require.NoError(t, tel.ForceFlush(context.Background()))
	assert.Equal(t, []string{"flushed"}, logs.Bodies())

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.True(t, logs.IsShutdown())
}
