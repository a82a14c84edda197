package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/embedkit/internal/embeddings"

// Metrics holds all embedding-related metrics.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	duration     metric.Float64Histogram
	batchSize    metric.Int64Histogram
	windows      metric.Int64Histogram
	windowTiming metric.Float64Histogram
	errors       metric.Int64Counter
}

// NewMetrics creates a new Metrics instance on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

func newMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  meter,
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"embedkit.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of an EmbedDocuments or EmbedQuery call in seconds, labeled by provider, model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"embedkit.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.windows, err = m.meter.Int64Histogram(
		"embedkit.embedding.window_size",
		metric.WithDescription("Number of texts per endpoint request after chunking"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64, 128, 256),
	)
	if err != nil {
		m.logger.Warn("failed to create window size histogram", zap.Error(err))
	}

	m.windowTiming, err = m.meter.Float64Histogram(
		"embedkit.embedding.request_duration_seconds",
		metric.WithDescription("Duration of a single endpoint request in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create request duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"embedkit.embedding.errors_total",
		metric.WithDescription("Total embedding errors by provider, model and operation, including endpoint, transform and model runtime failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordGeneration records a completed EmbedDocuments or EmbedQuery call.
func (m *Metrics) RecordGeneration(ctx context.Context, provider, model, operation string, duration time.Duration, batchSize int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("operation", operation),
	)

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordWindow records one endpoint request.
func (m *Metrics) RecordWindow(ctx context.Context, provider, model string, size int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)

	if m.windows != nil {
		m.windows.Record(ctx, int64(size), attrs)
	}
	if m.windowTiming != nil {
		m.windowTiming.Record(ctx, duration.Seconds(), attrs)
	}
}
