package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/mazemind/internal/embeddings"

// Metrics holds the OpenTelemetry instruments for embedding calls.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	duration     metric.Float64Histogram
	batchSize    metric.Int64Histogram
	errors       metric.Int64Counter
	cacheLookups metric.Int64Counter
	fallbacks    metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(embeddingsInstrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"mazemind.embedding.call_duration_seconds",
		metric.WithDescription("Duration of embedding provider calls in seconds, labeled by provider and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"mazemind.embedding.batch_size",
		metric.WithDescription("Number of texts sent per provider call after cache filtering"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"mazemind.embedding.errors_total",
		metric.WithDescription("Total failed embedding provider calls by provider and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.cacheLookups, err = m.meter.Int64Counter(
		"mazemind.embedding.cache_lookups_total",
		metric.WithDescription("Embedding cache lookups by result (hit, miss)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache lookups counter", zap.Error(err))
	}

	m.fallbacks, err = m.meter.Int64Counter(
		"mazemind.embedding.fallback_vectors_total",
		metric.WithDescription("Vectors served by the deterministic fallback after every provider failed"),
		metric.WithUnit("{vector}"),
	)
	if err != nil {
		m.logger.Warn("failed to create fallback counter", zap.Error(err))
	}
}

// RecordCall records one provider call.
func (m *Metrics) RecordCall(ctx context.Context, providerName, operation string, duration time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", providerName),
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

// RecordCacheLookups records hit and miss counts for one request.
func (m *Metrics) RecordCacheLookups(ctx context.Context, hits, misses int) {
	if m.cacheLookups == nil {
		return
	}
	if hits > 0 {
		m.cacheLookups.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("result", "hit")))
	}
	if misses > 0 {
		m.cacheLookups.Add(ctx, int64(misses), metric.WithAttributes(attribute.String("result", "miss")))
	}
}

// RecordFallback records vectors served by the deterministic fallback.
func (m *Metrics) RecordFallback(ctx context.Context, n int) {
	if m.fallbacks != nil && n > 0 {
		m.fallbacks.Add(ctx, int64(n))
	}
}
