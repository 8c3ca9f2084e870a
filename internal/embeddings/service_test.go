package embeddings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable Client.
type fakeClient struct {
	name    string
	dim     int
	failing atomic.Bool
	probeOK atomic.Bool
	calls   atomic.Int32
	delay   time.Duration

	mu    sync.Mutex
	texts [][]string
}

func newFake(name string, dim int) *fakeClient {
	f := &fakeClient{name: name, dim: dim}
	f.probeOK.Store(true)
	return f
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Embed(ctx context.Context, texts []string) (Batch, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.texts = append(f.texts, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		}
	}
	if f.failing.Load() {
		return Batch{}, errors.New("connection refused")
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = HashEmbedding(f.name+":"+t, f.dim)
	}
	return Batch{Vectors: vectors, Tokens: 10 * len(texts)}, nil
}

func (f *fakeClient) Probe(context.Context) error {
	if f.probeOK.Load() {
		return nil
	}
	return provider.ErrProviderUnavailable
}

func (f *fakeClient) sent() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.texts...)
}

func newTestService(t *testing.T, clients []Client, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(clients, 16, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, 16)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService([]Client{newFake("a", 4), newFake("a", 4)}, 16)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService([]Client{newFake("a", 4)}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestService_EmbedUsesCache(t *testing.T) {
	primary := newFake("primary", 8)
	s := newTestService(t, []Client{primary}, WithUnitCost("primary", 0.5))

	v1, err := s.Embed(context.Background(), "north corridor")
	require.NoError(t, err)
	v2, err := s.Embed(context.Background(), "north corridor")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), primary.calls.Load())

	st := s.Stats()
	require.Len(t, st.Providers, 1)
	p := st.Providers[0]
	assert.Equal(t, int64(1), p.TotalCalls)
	assert.Equal(t, int64(1), p.CacheHits)
	assert.Equal(t, int64(1), p.CacheMisses)
	assert.Equal(t, int64(10), p.TotalTokens)
	assert.InDelta(t, 0.005, p.TotalCost, 1e-12)
	assert.Equal(t, 1, st.CacheSize)
	assert.Equal(t, 8, st.Dimension)
}

func TestService_EmbedBatchPreservesOrder(t *testing.T) {
	primary := newFake("primary", 8)
	s := newTestService(t, []Client{primary})
	ctx := context.Background()

	_, err := s.EmbedBatch(ctx, []string{"b", "d"})
	require.NoError(t, err)

	texts := []string{"a", "b", "c", "d", "a"}
	got, err := s.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))

	for i, text := range texts {
		assert.Equal(t, HashEmbedding("primary:"+text, 8), got[i], "index %d", i)
	}

	sent := primary.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []string{"a", "c"}, sent[1], "only unique misses go to the provider")
}

func TestService_FailingPrimarySwitchesToHealthyFallback(t *testing.T) {
	primary := newFake("primary", 8)
	fallback := newFake("fallback", 8)
	primary.failing.Store(true)

	s := newTestService(t, []Client{primary, fallback})
	before := testutil.ToFloat64(provider.FailoversTotal.WithLabelValues(metricKind, "primary", "fallback"))

	for _, text := range []string{"one", "two", "three", "four"} {
		v, err := s.Embed(context.Background(), text)
		require.NoError(t, err, "caller sees no error while a fallback is healthy")
		assert.Equal(t, HashEmbedding("fallback:"+text, 8), v)
	}

	assert.Equal(t, "fallback", s.Active())
	assert.Equal(t, int32(1), primary.calls.Load(), "known-bad primary is not retried")
	assert.Equal(t, int32(4), fallback.calls.Load())

	st := s.Stats()
	assert.Equal(t, int64(1), st.Failovers)
	assert.Equal(t, int64(1), st.Providers[0].ErrorCount)
	assert.Equal(t, before+1, testutil.ToFloat64(provider.FailoversTotal.WithLabelValues(metricKind, "primary", "fallback")))
}

func TestService_SkipsSuspectProviders(t *testing.T) {
	a := newFake("a", 8)
	b := newFake("b", 8)
	a.failing.Store(true)
	b.failing.Store(true)

	s := newTestService(t, []Client{a, b}, WithFailureThreshold(2))
	ctx := context.Background()

	for _, text := range []string{"t1", "t2"} {
		_, err := s.Embed(ctx, text)
		require.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	}
	assert.Equal(t, int32(2), a.calls.Load())
	assert.Equal(t, int32(2), b.calls.Load())

	// Both streaks reached the threshold: no provider is called.
	v, err := s.Embed(ctx, "t3")
	require.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	assert.Equal(t, HashEmbedding("t3", DefaultHashDimension), v)
	assert.Equal(t, int32(2), a.calls.Load())
	assert.Equal(t, int32(2), b.calls.Load())

	// A successful probe restores the provider.
	b.failing.Store(false)
	results := s.CheckHealth(ctx, time.Second)
	assert.NoError(t, results["b"])

	v, err = s.Embed(ctx, "t4")
	require.NoError(t, err)
	assert.Equal(t, HashEmbedding("b:t4", 8), v)
	assert.Equal(t, "b", s.Active())
}

func TestService_ExhaustionServesDeterministicFallback(t *testing.T) {
	a := newFake("a", 16)
	s := newTestService(t, []Client{a}, WithDimension(16))
	a.failing.Store(true)
	before := testutil.ToFloat64(provider.DegradedTotal.WithLabelValues("embeddings", "all_providers_exhausted"))

	vs, err := s.EmbedBatch(context.Background(), []string{"lost", "lost", "found"})
	require.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	require.Len(t, vs, 3)
	assert.Equal(t, HashEmbedding("lost", 16), vs[0])
	assert.Equal(t, vs[0], vs[1])
	assert.Equal(t, HashEmbedding("found", 16), vs[2])

	st := s.Stats()
	assert.Equal(t, int64(2), st.FallbackVectors)
	assert.Zero(t, st.CacheSize, "fallback vectors are not cached")
	assert.Equal(t, before+2, testutil.ToFloat64(provider.DegradedTotal.WithLabelValues("embeddings", "all_providers_exhausted")))
}

func TestService_DimensionMismatchIsInvalidResponse(t *testing.T) {
	wrong := newFake("wrong", 4)
	right := newFake("right", 8)
	s := newTestService(t, []Client{wrong, right}, WithDimension(8))

	v, err := s.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Equal(t, "right", s.Active())

	st := s.Stats()
	assert.Contains(t, st.Providers[0].LastError, "invalid provider response")
}

func TestService_DimensionLocksOnFirstResult(t *testing.T) {
	a := newFake("a", 6)
	s := newTestService(t, []Client{a})
	assert.Zero(t, s.Dimension())

	_, err := s.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 6, s.Dimension())
}

func TestService_TimeoutCountsAsFailure(t *testing.T) {
	slow := newFake("slow", 8)
	slow.delay = time.Second
	fast := newFake("fast", 8)
	s := newTestService(t, []Client{slow, fast}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := s.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "fast", s.Active())

	st := s.Stats()
	assert.Contains(t, st.Providers[0].LastError, "timeout")
}

func TestService_ContextCanceled(t *testing.T) {
	a := newFake("a", 8)
	s := newTestService(t, []Client{a})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := s.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, v)
	assert.Equal(t, "a", s.Active())
}

func TestService_SetActive(t *testing.T) {
	s := newTestService(t, []Client{newFake("a", 8), newFake("b", 8)})
	require.NoError(t, s.SetActive("b"))
	assert.Equal(t, "b", s.Active())
	assert.ErrorIs(t, s.SetActive("nope"), ErrUnknownProvider)
}

func TestService_ConcurrentAgents(t *testing.T) {
	primary := newFake("primary", 8)
	fallback := newFake("fallback", 8)
	s := newTestService(t, []Client{primary, fallback})
	primary.failing.Store(true)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.EmbedBatch(context.Background(), []string{"shared", string(rune('a' + i))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, "fallback", s.Active())
}

func TestService_HealthChecksUpdateAvailability(t *testing.T) {
	a := newFake("a", 8)
	b := newFake("b", 8)
	a.probeOK.Store(false)
	s := newTestService(t, []Client{a, b})

	require.NoError(t, s.StartHealthChecks(context.Background(), 10*time.Millisecond, time.Second))
	assert.Error(t, s.StartHealthChecks(context.Background(), 10*time.Millisecond, time.Second))

	require.Eventually(t, func() bool {
		st := s.Stats()
		return !st.Providers[0].IsAvailable
	}, time.Second, 5*time.Millisecond)

	_, err := s.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Zero(t, a.calls.Load(), "unavailable provider is skipped")
	assert.Equal(t, "b", s.Active())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
