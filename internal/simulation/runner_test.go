package simulation

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"github.com/fyrsmithlabs/mazemind/internal/embeddings"
	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
	"github.com/fyrsmithlabs/mazemind/internal/retrieval"
	"github.com/fyrsmithlabs/mazemind/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, clock *Clock, clients ...llm.Client) *agent.Runtime {
	t.Helper()
	emb, err := embeddings.NewService([]embeddings.Client{embeddings.NewHashClient(64)}, 512, embeddings.WithDimension(64))
	require.NoError(t, err)
	clients = append(clients, llm.HeuristicClient{})
	gen, err := llm.NewService(clients, clients[0].Name())
	require.NoError(t, err)
	ret, err := retrieval.NewEngine(emb, retrieval.WithClock(clock.Now))
	require.NoError(t, err)
	sched, err := reflection.NewScheduler()
	require.NoError(t, err)

	rt, err := agent.NewRuntime(services.NewRegistry(services.Options{
		Embeddings: emb,
		LLM:        gen,
		Retrieval:  ret,
		Scheduler:  sched,
		Reflection: reflection.DefaultConfig(),
	}), agent.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func newRunner(t *testing.T, clients ...llm.Client) (*Runner, *Clock) {
	t.Helper()
	clock := NewClock(DefaultStart)
	r, err := NewRunner(RunnerConfig{Runtime: newRuntime(t, clock, clients...), Clock: clock})
	require.NoError(t, err)
	return r, clock
}

func TestNewRunner_RequiresRuntime(t *testing.T) {
	_, err := NewRunner(RunnerConfig{})
	assert.ErrorContains(t, err, "runtime is required")
}

func TestRunner_Validate(t *testing.T) {
	r, _ := newRunner(t, ScriptedModel{})
	noClock, err := NewRunner(RunnerConfig{Runtime: r.runtime})
	require.NoError(t, err)

	tests := []struct {
		name   string
		runner *Runner
		sc     Scenario
		errMsg string
	}{
		{name: "valid default", runner: r, sc: DefaultScenario(2)},
		{name: "missing name", runner: r, sc: Scenario{Agents: 1}, errMsg: "name is required"},
		{name: "no agents", runner: r, sc: Scenario{Name: "x"}, errMsg: "agents must be at least 1"},
		{name: "observe without text", runner: r, sc: Scenario{Name: "x", Agents: 1, Actions: []Action{{Type: ActionObserve}}}, errMsg: "text is required"},
		{name: "retrieve without query", runner: r, sc: Scenario{Name: "x", Agents: 1, Actions: []Action{{Type: ActionRetrieve}}}, errMsg: "query is required"},
		{name: "advance without clock", runner: noClock, sc: Scenario{Name: "x", Agents: 1, Actions: []Action{{Type: ActionAdvance, Advance: 1}}}, errMsg: "no clock"},
		{name: "advance by zero", runner: r, sc: Scenario{Name: "x", Agents: 1, Actions: []Action{{Type: ActionAdvance}}}, errMsg: "must be positive"},
		{name: "unknown action", runner: r, sc: Scenario{Name: "x", Agents: 1, Actions: []Action{{Type: "jump"}}}, errMsg: `unknown type "jump"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.runner.Validate(tt.sc)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidScenario)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestRunner_DefaultScenario(t *testing.T) {
	r, clock := newRunner(t, ScriptedModel{})
	start := clock.Now()

	res, err := r.RunScenario(context.Background(), DefaultScenario(3))
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	assert.True(t, res.Passed, "%+v", res.Agents)
	assert.Equal(t, 25*time.Minute, clock.Now().Sub(start))

	require.Len(t, res.Agents, 3)
	for i, ar := range res.Agents {
		assert.Equal(t, "maze-"+strconv.Itoa(i+1), ar.ID)
		assert.Equal(t, 11, ar.Stats.Memory.Observations)
		assert.Equal(t, 1, ar.Stats.Memory.Plans)
		assert.Equal(t, 6, ar.Stats.Memory.Reflections, "two manual cycles of three questions")
		assert.Equal(t, 1, ar.Tree.Depth())
		require.NoError(t, ar.Tree.Validate())
		assert.Len(t, ar.Retrieved, 5)
		assert.Len(t, ar.Assertions, 4)
	}
	assert.Equal(t, []string{"maze-1", "maze-2", "maze-3"}, r.runtime.Agents())
}

func TestRunner_HeuristicModeFailsReflectionAssertions(t *testing.T) {
	r, _ := newRunner(t)

	res, err := r.RunScenario(context.Background(), DefaultScenario(1))
	require.NoError(t, err)
	assert.Empty(t, res.Error, "failed cycles do not abort the run")
	assert.False(t, res.Passed)

	ar := res.Agents[0]
	assert.Zero(t, ar.Stats.Memory.Reflections)
	byType := map[string]AssertResult{}
	for _, a := range ar.Assertions {
		byType[a.Assertion.Type] = a
	}
	assert.True(t, byType[AssertMemoryCount].Passed)
	assert.False(t, byType[AssertReflectionsAtLeast].Passed)
	assert.Contains(t, byType[AssertReflectionsAtLeast].Message, "agents reflect on the run: expected at least 1 reflections, got 0")
}

func TestRunner_ActionErrorEndsRun(t *testing.T) {
	r, _ := newRunner(t, ScriptedModel{})
	res, err := r.RunScenario(context.Background(), Scenario{
		Name:   "bad",
		Agents: 2,
		Actions: []Action{
			{Type: ActionObserve, Text: "a wall", Importance: 3},
			{Type: ActionObserve, Text: "too important", Importance: 12},
			{Type: ActionObserve, Text: "never recorded", Importance: 3},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "action 1 (observe)")
	for _, ar := range res.Agents {
		assert.Equal(t, 1, ar.Stats.Memory.Observations)
	}
}

func TestRunner_RunScenarios(t *testing.T) {
	r, _ := newRunner(t, ScriptedModel{})
	sc := Scenario{
		Name:       "short",
		Agents:     1,
		Actions:    []Action{{Type: ActionObserve, Text: "{agent} sees a door", Importance: 4}, {Type: ActionRetrieve, Query: "door"}},
		Assertions: []Assertion{{Type: AssertRetrievedContains, Text: "short-1 sees a door"}, {Type: "bogus"}},
	}

	results, err := r.RunScenarios(context.Background(), []Scenario{sc})
	require.NoError(t, err)
	require.Len(t, results, 1)
	as := results[0].Agents[0].Assertions
	assert.True(t, as[0].Passed)
	assert.False(t, as[1].Passed)
	assert.Equal(t, "unknown assertion type: bogus", as[1].Message)

	_, err = r.RunScenarios(context.Background(), []Scenario{sc})
	assert.ErrorIs(t, err, agent.ErrAgentExists)
}

func TestLoadScenarios(t *testing.T) {
	dir := t.TempDir()
	data := `{"scenarios": [{"name": "corridor", "agents": 2, "actions": [
		{"type": "observe", "text": "a long corridor", "importance": 3},
		{"type": "advance", "advance": "30m"},
		{"type": "tick"}
	], "assertions": [{"type": "memory_count", "value": 1}]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(data), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	fromFile, err := LoadScenarios(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	require.Len(t, fromFile, 1)
	sc := fromFile[0]
	assert.Equal(t, "corridor", sc.Name)
	assert.Equal(t, 2, sc.Agents)
	require.Len(t, sc.Actions, 3)
	assert.Equal(t, 30*time.Minute, sc.Actions[1].Advance.Duration())
	assert.Equal(t, 1.0, sc.Assertions[0].Value)

	fromDir, err := LoadScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, fromFile, fromDir)

	_, err = LoadScenarios(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{"), 0o600))
	_, err = LoadScenarios(dir)
	assert.ErrorContains(t, err, "unmarshal")
}
