package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is a Client with overridable behavior.
type mockClient struct {
	name       string
	GenerateFn func(ctx context.Context, prompt string, opts Options) (Completion, error)
	ProbeFn    func(ctx context.Context) error
	calls      atomic.Int32
}

func (m *mockClient) Name() string { return m.name }

func (m *mockClient) Generate(ctx context.Context, prompt string, opts Options) (Completion, error) {
	m.calls.Add(1)
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt, opts)
	}
	return Completion{Text: "ok: " + prompt, Tokens: 100}, nil
}

func (m *mockClient) Probe(ctx context.Context) error {
	if m.ProbeFn != nil {
		return m.ProbeFn(ctx)
	}
	return nil
}

func failing(err error) func(context.Context, string, Options) (Completion, error) {
	return func(context.Context, string, Options) (Completion, error) {
		return Completion{}, err
	}
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService([]Client{&mockClient{name: "a"}}, "b")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewService([]Client{&mockClient{name: "a"}, &mockClient{name: "a"}}, "a")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := NewService([]Client{&mockClient{name: "a"}, &mockClient{name: "b"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "a", s.Active())
}

func TestGenerate_Success(t *testing.T) {
	var got Options
	m := &mockClient{name: "a", GenerateFn: func(_ context.Context, prompt string, opts Options) (Completion, error) {
		got = opts
		return Completion{Text: "  an insight  ", Tokens: 2000}, nil
	}}
	s, err := NewService([]Client{m}, "a",
		WithUnitCost("a", 0.5),
		WithDefaults(Options{Temperature: Float(0.3), MaxTokens: 64}),
	)
	require.NoError(t, err)

	text, err := s.Generate(context.Background(), "why?", Options{StopSequences: []string{"\n"}})
	require.NoError(t, err)
	assert.Equal(t, "an insight", text)
	assert.Equal(t, Options{Temperature: Float(0.3), MaxTokens: 64, StopSequences: []string{"\n"}}, got)

	st := s.Stats()
	require.Len(t, st.Providers, 1)
	assert.Equal(t, int64(1), st.Providers[0].TotalCalls)
	assert.Equal(t, int64(2000), st.Providers[0].TotalTokens)
	assert.InDelta(t, 1.0, st.Providers[0].TotalCost, 1e-12)
}

func TestGenerate_ZeroTemperatureOverridesDefault(t *testing.T) {
	var got []Options
	m := &mockClient{name: "a", GenerateFn: func(_ context.Context, _ string, opts Options) (Completion, error) {
		got = append(got, opts)
		return Completion{Text: "ok"}, nil
	}}
	s, err := NewService([]Client{m}, "a", WithDefaults(Options{Temperature: Float(0.7), MaxTokens: 64}))
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), "q", Options{Temperature: Float(0)})
	require.NoError(t, err)
	_, err = s.Generate(context.Background(), "q", Options{})
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.NotNil(t, got[0].Temperature)
	assert.Equal(t, 0.0, *got[0].Temperature)
	require.NotNil(t, got[1].Temperature)
	assert.Equal(t, 0.7, *got[1].Temperature)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	s, err := NewService([]Client{&mockClient{name: "a"}}, "a")
	require.NoError(t, err)
	_, err = s.Generate(context.Background(), "  ", Options{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestGenerate_HeuristicFailsFast(t *testing.T) {
	s, err := NewService([]Client{HeuristicClient{}}, "heuristic", WithRetries(5, time.Second))
	require.NoError(t, err)
	assert.True(t, s.Heuristic())

	start := time.Now()
	text, err := s.Generate(context.Background(), "summarize", Options{})
	assert.ErrorIs(t, err, ErrHeuristicMode)
	assert.NotErrorIs(t, err, provider.ErrAllProvidersExhausted)
	assert.Empty(t, text)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGenerate_EmptyCompletionIsInvalidResponse(t *testing.T) {
	m := &mockClient{name: "a", GenerateFn: func(context.Context, string, Options) (Completion, error) {
		return Completion{Text: "   "}, nil
	}}
	s, err := NewService([]Client{m}, "a", WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), "q", Options{})
	assert.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	assert.ErrorIs(t, err, provider.ErrInvalidResponse)
	assert.Equal(t, int32(1), m.calls.Load(), "invalid responses are not retried")
}

func TestGenerate_RetriesRateLimits(t *testing.T) {
	var n atomic.Int32
	m := &mockClient{name: "a", GenerateFn: func(context.Context, string, Options) (Completion, error) {
		if n.Add(1) < 3 {
			return Completion{}, provider.ErrRateLimited
		}
		return Completion{Text: "finally"}, nil
	}}
	s, err := NewService([]Client{m}, "a", WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	text, err := s.Generate(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, int32(3), m.calls.Load())

	st := s.Stats().Providers[0]
	assert.Equal(t, int64(2), st.ErrorCount)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestGenerate_RetriesExhausted(t *testing.T) {
	m := &mockClient{name: "a", GenerateFn: failing(provider.ErrRateLimited)}
	s, err := NewService([]Client{m}, "a", WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), "q", Options{})
	assert.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	assert.ErrorIs(t, err, provider.ErrRateLimited)
	assert.Equal(t, int32(3), m.calls.Load())
}

func TestGenerate_Timeout(t *testing.T) {
	m := &mockClient{name: "a", GenerateFn: func(ctx context.Context, _ string, _ Options) (Completion, error) {
		<-ctx.Done()
		return Completion{}, ctx.Err()
	}}
	s, err := NewService([]Client{m}, "a", WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Generate(context.Background(), "q", Options{})
	assert.ErrorIs(t, err, provider.ErrTimeout)
	assert.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerate_NoAutomaticFallback(t *testing.T) {
	a := &mockClient{name: "a", GenerateFn: failing(errors.New("connection refused"))}
	b := &mockClient{name: "b"}
	s, err := NewService([]Client{a, b}, "a")
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), "q", Options{})
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, "a", s.Active())
	assert.Zero(t, b.calls.Load())
}

func TestGenerate_ContextCanceled(t *testing.T) {
	m := &mockClient{name: "a"}
	s, err := NewService([]Client{m}, "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Generate(ctx, "q", Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, provider.ErrAllProvidersExhausted)
}

func TestSetProvider(t *testing.T) {
	down := &mockClient{name: "cloud", ProbeFn: func(context.Context) error {
		return provider.ErrProviderUnavailable
	}}
	up := &mockClient{name: "local"}
	s, err := NewService([]Client{up, down, HeuristicClient{}}, "local")
	require.NoError(t, err)

	err = s.SetProvider(context.Background(), "cloud")
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, "local", s.Active())

	require.NoError(t, s.SetProvider(context.Background(), "heuristic"))
	assert.Equal(t, "heuristic", s.Active())

	assert.ErrorIs(t, s.SetProvider(context.Background(), "nope"), ErrUnknownProvider)

	st := s.Stats()
	assert.False(t, st.Providers[1].IsAvailable)
}

func TestSetProvider_ProbeTimeout(t *testing.T) {
	hung := &mockClient{name: "hung", ProbeFn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	s, err := NewService([]Client{&mockClient{name: "a"}, hung}, "a", WithHealthTimeout(20*time.Millisecond))
	require.NoError(t, err)

	err = s.SetProvider(context.Background(), "hung")
	assert.ErrorIs(t, err, provider.ErrTimeout)
	assert.Equal(t, "a", s.Active())
}

func TestCycleProvider(t *testing.T) {
	a := &mockClient{name: "a"}
	b := &mockClient{name: "b", ProbeFn: func(context.Context) error { return provider.ErrProviderUnavailable }}
	c := &mockClient{name: "c"}
	s, err := NewService([]Client{a, b, c}, "a")
	require.NoError(t, err)

	next, err := s.CycleProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", next, "unavailable provider is skipped")

	next, err = s.CycleProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", next, "cycling wraps around")
}

func TestCycleProvider_NoneAvailable(t *testing.T) {
	down := func(context.Context) error { return provider.ErrProviderUnavailable }
	s, err := NewService([]Client{
		&mockClient{name: "a"},
		&mockClient{name: "b", ProbeFn: down},
		&mockClient{name: "c", ProbeFn: down},
	}, "a")
	require.NoError(t, err)

	name, err := s.CycleProvider(context.Background())
	assert.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	assert.Equal(t, "a", name)
	assert.Equal(t, "a", s.Active())
}

func TestCheckHealth(t *testing.T) {
	s, err := NewService([]Client{
		&mockClient{name: "a"},
		&mockClient{name: "b", ProbeFn: func(context.Context) error { return errors.New("down") }},
	}, "a")
	require.NoError(t, err)

	res := s.CheckHealth(context.Background())
	assert.NoError(t, res["a"])
	assert.ErrorIs(t, res["b"], provider.ErrProviderUnavailable)
	assert.Equal(t, []string{"a", "b"}, s.Providers())
}
