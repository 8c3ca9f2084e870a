package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/mazemind/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	tel, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledInstallsGlobalProviders(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	exp := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	logger := logging.NewTestLogger()

	tel, err := New(context.Background(), cfg, logger.Underlying(),
		WithTraceExporter(exp), WithMetricReader(reader))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)
	logger.AssertLogged(t, zapcore.InfoLevel, "telemetry enabled")

	_, span := otel.Tracer("maze").Start(context.Background(), "agent.observe")
	span.SetAttributes(attribute.String("agent_id", "a1"))
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))
	require.Len(t, exp.GetSpans(), 1)
	assert.Equal(t, "agent.observe", exp.GetSpans()[0].Name)

	counter, err := otel.Meter("maze").Int64Counter("observations")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)
	got, ok := (&TestTelemetry{Reader: reader}).Int64Sum(context.Background(), "observations")
	require.True(t, ok)
	assert.Equal(t, int64(2), got)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.False(t, tel.Health().Healthy)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("test").Start(context.Background(), "reflection.cycle")
	span.SetAttributes(
		attribute.Int("level", 1),
		attribute.String("trigger", "manual"),
	)
	span.End()

	tt.AssertSpanExists(t, "reflection.cycle")
	tt.AssertSpanAttribute(t, "reflection.cycle", "level", int64(1))
	tt.AssertSpanAttribute(t, "reflection.cycle", "trigger", "manual")
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()

	_, ok := tt.Int64Sum(context.Background(), "cycles")
	assert.False(t, ok)

	c, err := tt.Meter("test").Int64Counter("cycles")
	require.NoError(t, err)
	c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", "ok")))
	c.Add(context.Background(), 2, metric.WithAttributes(attribute.String("result", "aborted")))

	got, ok := tt.Int64Sum(context.Background(), "cycles")
	require.True(t, ok)
	assert.Equal(t, int64(3), got)
}
