package simulation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidScenario indicates a scenario that cannot run.
var ErrInvalidScenario = errors.New("invalid scenario")

// Runner executes scenarios against a runtime.
type Runner struct {
	runtime *agent.Runtime
	clock   *Clock
	logger  *zap.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Runtime *agent.Runtime
	// Clock must be the clock the runtime was built with for "advance"
	// actions to take effect. Scenarios with advance actions fail without it.
	Clock  *Clock
	Logger *zap.Logger
}

// NewRunner creates a new scenario runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{runtime: cfg.Runtime, clock: cfg.Clock, logger: logger}, nil
}

// Validate checks a scenario before it runs.
func (r *Runner) Validate(sc Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}
	if sc.Agents < 1 {
		return fmt.Errorf("%w: agents must be at least 1, got %d", ErrInvalidScenario, sc.Agents)
	}
	for i, a := range sc.Actions {
		switch a.Type {
		case ActionObserve, ActionPlan:
			if strings.TrimSpace(a.Text) == "" {
				return fmt.Errorf("%w: action %d (%s): text is required", ErrInvalidScenario, i, a.Type)
			}
		case ActionRetrieve:
			if strings.TrimSpace(a.Query) == "" {
				return fmt.Errorf("%w: action %d (retrieve): query is required", ErrInvalidScenario, i)
			}
		case ActionAdvance:
			if r.clock == nil {
				return fmt.Errorf("%w: action %d (advance): runner has no clock", ErrInvalidScenario, i)
			}
			if a.Advance <= 0 {
				return fmt.Errorf("%w: action %d (advance): duration must be positive", ErrInvalidScenario, i)
			}
		case ActionReflect, ActionTick:
		default:
			return fmt.Errorf("%w: action %d: unknown type %q", ErrInvalidScenario, i, a.Type)
		}
	}
	return nil
}

// RunScenario spawns the scenario's agents and plays every action for all
// of them. Agents run each action concurrently and move to the next action
// together. Action failures end the run and are reported in Result.Error.
func (r *Runner) RunScenario(ctx context.Context, sc Scenario) (*Result, error) {
	if err := r.Validate(sc); err != nil {
		return nil, err
	}
	start := time.Now()
	r.logger.Info("starting scenario",
		zap.String("name", sc.Name),
		zap.Int("agents", sc.Agents),
		zap.Int("actions", len(sc.Actions)),
	)

	agents := make([]*agent.Agent, sc.Agents)
	for i := range agents {
		a, err := r.runtime.Spawn(fmt.Sprintf("%s-%d", sc.Name, i+1))
		if err != nil {
			return nil, fmt.Errorf("spawning agent: %w", err)
		}
		agents[i] = a
	}

	retrieved := make([][]string, len(agents))
	runErr := r.play(ctx, sc.Actions, agents, retrieved)

	res := &Result{Scenario: sc.Name, Passed: runErr == nil}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	for i, a := range agents {
		ar := AgentResult{
			ID:        a.ID(),
			Stats:     a.Stats(),
			Tree:      a.ReflectionTree(),
			Retrieved: retrieved[i],
			Passed:    true,
		}
		for _, as := range sc.Assertions {
			check := checkAssertion(ar, as)
			ar.Assertions = append(ar.Assertions, check)
			if !check.Passed {
				ar.Passed = false
				r.logger.Warn("assertion failed",
					zap.String("agent_id", ar.ID),
					zap.String("type", as.Type),
					zap.String("message", check.Message),
				)
			}
		}
		res.Passed = res.Passed && ar.Passed
		res.Agents = append(res.Agents, ar)
	}
	res.Duration = time.Since(start)

	r.logger.Info("scenario complete",
		zap.String("name", sc.Name),
		zap.Bool("passed", res.Passed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (r *Runner) play(ctx context.Context, actions []Action, agents []*agent.Agent, retrieved [][]string) error {
	var mu sync.Mutex
	for i, action := range actions {
		if action.Type == ActionAdvance {
			r.clock.Advance(action.Advance.Duration())
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		for n, a := range agents {
			g.Go(func() error {
				texts, err := r.act(gctx, a, action)
				if err != nil {
					return fmt.Errorf("action %d (%s) for %s: %w", i, action.Type, a.ID(), err)
				}
				if len(texts) > 0 {
					mu.Lock()
					retrieved[n] = texts
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// act performs one action for one agent. Retrieve returns the texts it got.
func (r *Runner) act(ctx context.Context, a *agent.Agent, action Action) ([]string, error) {
	expand := func(s string) string { return strings.ReplaceAll(s, "{agent}", a.ID()) }

	switch action.Type {
	case ActionObserve:
		_, err := a.RecordObservation(ctx, expand(action.Text), action.Importance)
		return nil, err
	case ActionPlan:
		_, err := a.RecordPlan(ctx, expand(action.Text), action.Importance)
		return nil, err
	case ActionRetrieve:
		k := action.K
		if k <= 0 {
			k = 5
		}
		mems, err := a.Retrieve(ctx, expand(action.Query), k)
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(mems))
		for i, m := range mems {
			texts[i] = m.Text
		}
		return texts, nil
	case ActionReflect:
		_, err := a.Reflect(ctx)
		return nil, ignoreDegraded(err)
	case ActionTick:
		_, err := a.Tick(ctx)
		return nil, ignoreDegraded(err)
	}
	return nil, fmt.Errorf("unknown action type %q", action.Type)
}

// ignoreDegraded drops reflection failures that leave the agent intact.
// A failed cycle commits nothing and is retried on the next tick.
func ignoreDegraded(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// RunScenarios executes scenarios in order and aggregates results.
func (r *Runner) RunScenarios(ctx context.Context, scenarios []Scenario) ([]Result, error) {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		res, err := r.RunScenario(ctx, sc)
		if err != nil {
			return results, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

func checkAssertion(ar AgentResult, as Assertion) AssertResult {
	res := AssertResult{Assertion: as}
	want := int(as.Value)

	switch as.Type {
	case AssertMemoryCount:
		n := ar.Stats.Memory.Observations + ar.Stats.Memory.Plans
		res.Actual = n
		res.Passed = n == want
		if !res.Passed {
			res.Message = fmt.Sprintf("expected %d observations and plans, got %d", want, n)
		}
	case AssertReflectionsAtLeast:
		res.Actual = ar.Stats.Memory.Reflections
		res.Passed = ar.Stats.Memory.Reflections >= want
		if !res.Passed {
			res.Message = fmt.Sprintf("expected at least %d reflections, got %d", want, ar.Stats.Memory.Reflections)
		}
	case AssertTreeDepthAtLeast:
		res.Actual = ar.Stats.TreeDepth
		res.Passed = ar.Stats.TreeDepth >= want
		if !res.Passed {
			res.Message = fmt.Sprintf("expected tree depth of at least %d, got %d", want, ar.Stats.TreeDepth)
		}
	case AssertRetrievedContains:
		res.Actual = ar.Retrieved
		for _, t := range ar.Retrieved {
			if strings.Contains(t, as.Text) {
				res.Passed = true
				break
			}
		}
		if !res.Passed {
			res.Message = fmt.Sprintf("last retrieval has no memory containing %q", as.Text)
		}
	default:
		res.Message = fmt.Sprintf("unknown assertion type: %s", as.Type)
	}

	if !res.Passed && as.Message != "" {
		res.Message = as.Message + ": " + res.Message
	}
	return res
}
