package reflection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(WithInterval(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewScheduler(WithMaxConcurrent(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := NewScheduler()
	require.NoError(t, err)
	assert.False(t, s.Running())
}

func TestScheduler_RegisterUnregister(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)

	a := newFixture(t, testConfig())
	b := newFixture(t, testConfig())
	s.Register("b", b.engine)
	s.Register("a", a.engine)
	assert.Equal(t, []string{"a", "b"}, s.Engines())

	s.Unregister("a")
	assert.Equal(t, []string{"b"}, s.Engines())
}

func TestScheduler_TickAllRunsDueEngines(t *testing.T) {
	s, err := NewScheduler(WithMaxConcurrent(2))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Threshold = 10
	fixtures := make([]*fixture, 4)
	for i := range fixtures {
		fixtures[i] = newFixture(t, cfg)
		s.Register(fmt.Sprintf("agent-%d", i), fixtures[i].engine)
	}
	// Only the even agents cross the threshold.
	for i, f := range fixtures {
		imp := 4
		if i%2 == 0 {
			imp = 9
		}
		f.observe(t, "a torch flickers", imp)
		f.observe(t, "the floor slopes down", imp)
	}

	cycles, err := s.TickAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, cycles, 2)
	assert.Len(t, cycles["agent-0"], 1)
	assert.Len(t, cycles["agent-2"], 1)
	assert.NotContains(t, cycles, "agent-1")

	assert.Zero(t, fixtures[0].store.Accumulator(0))
	assert.Equal(t, 8, fixtures[1].store.Accumulator(0))
}

func TestScheduler_TickAllSwallowsCycleFailures(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Threshold = 5
	f := newFixture(t, cfg)
	f.gen.question = func() (string, error) { return "", fmt.Errorf("boom") }
	f.observe(t, "a gate", 6)
	s.Register("agent-1", f.engine)

	cycles, err := s.TickAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cycles)
	assert.Equal(t, int64(1), f.engine.Stats().Failures)
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(WithInterval(10 * time.Millisecond))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Threshold = 5
	f := newFixture(t, cfg)
	f.observe(t, "the exit sign glows", 9)
	s.Register("agent-1", f.engine)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start fails")
	assert.True(t, s.Running())

	require.Eventually(t, func() bool {
		return f.engine.Stats().Cycles == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()

	require.NoError(t, s.Start(ctx), "restart after stop")
	s.Stop()
}

func TestScheduler_StopsWithContext(t *testing.T) {
	s, err := NewScheduler(WithInterval(10 * time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	s.Stop()
}
