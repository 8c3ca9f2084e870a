package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newMetrics(mp.Meter("test"), nil)
	ctx := context.Background()

	m.RecordCall(ctx, "tei", "embed", 20*time.Millisecond, 3, nil)
	m.RecordCall(ctx, "tei", "embed", 30*time.Millisecond, 1, errors.New("boom"))
	m.RecordCacheLookups(ctx, 2, 5)
	m.RecordFallback(ctx, 4)
	m.RecordFallback(ctx, 0)

	got := collect(t, reader)

	hist, ok := got["mazemind.embedding.call_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)

	assert.Equal(t, int64(1), sumOf(t, got["mazemind.embedding.errors_total"]))
	assert.Equal(t, int64(7), sumOf(t, got["mazemind.embedding.cache_lookups_total"]))
	assert.Equal(t, int64(4), sumOf(t, got["mazemind.embedding.fallback_vectors_total"]))
}

func TestService_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	s := newTestService(t, []Client{newFake("a", 4)}, WithMetrics(newMetrics(mp.Meter("test"), nil)))

	_, err := s.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	_, err = s.Embed(context.Background(), "x")
	require.NoError(t, err)

	got := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, got["mazemind.embedding.cache_lookups_total"]))
}
