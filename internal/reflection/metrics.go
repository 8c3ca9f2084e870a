package reflection

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/mazemind/internal/reflection"

// Metrics holds the OpenTelemetry instruments for reflection cycles.
type Metrics struct {
	cycles      metric.Int64Counter
	reflections metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates instruments on meter.
func NewMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	return newMetrics(meter, logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var err error

	m.cycles, err = meter.Int64Counter(
		"mazemind.reflection.cycles_total",
		metric.WithDescription("Reflection cycles by level and result (ok, aborted)"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		logger.Warn("failed to create cycles counter", zap.Error(err))
	}

	m.reflections, err = meter.Int64Counter(
		"mazemind.reflection.created_total",
		metric.WithDescription("Reflections committed by level"),
		metric.WithUnit("{reflection}"),
	)
	if err != nil {
		logger.Warn("failed to create reflections counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"mazemind.reflection.cycle_duration_seconds",
		metric.WithDescription("Duration of reflection cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn("failed to create cycle duration histogram", zap.Error(err))
	}
	return m
}

func (m *Metrics) recordCycle(ctx context.Context, level int, result string, created int, d time.Duration) {
	if m == nil {
		return
	}
	levelAttr := attribute.Int("level", level)
	if m.cycles != nil {
		m.cycles.Add(ctx, 1, metric.WithAttributes(levelAttr, attribute.String("result", result)))
	}
	if m.reflections != nil && created > 0 {
		m.reflections.Add(ctx, int64(created), metric.WithAttributes(levelAttr))
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(levelAttr, attribute.String("result", result)))
	}
}
