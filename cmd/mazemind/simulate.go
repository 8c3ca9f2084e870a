package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/fyrsmithlabs/mazemind/internal/services"
	"github.com/fyrsmithlabs/mazemind/internal/simulation"
	"github.com/spf13/cobra"
)

var (
	simAgents   int
	simScenario string
	simOffline  bool
	simJSON     bool
)

// simulateCmd runs scripted maze scenarios
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run synthetic agents through a maze scenario",
	Long: `Drive synthetic agents through a scripted maze run and print the
reflection tree each agent builds. Time is simulated, so recency decay and
interval reflection follow the scenario's advance steps.

Without --scenario the built-in maze scenario runs. Scenario files are JSON
documents with a "scenarios" list; a directory runs every .json file in it.

Examples:
  # Three agents, no model servers needed
  mazemind simulate --offline

  # Ten agents against the configured providers
  mazemind simulate --agents 10

  # Custom scenarios as JSON
  mazemind simulate --scenario ./scenarios --json`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simAgents, "agents", 3, "number of agents in the built-in scenario, or per scenario when set")
	simulateCmd.Flags().StringVar(&simScenario, "scenario", "", "scenario file or directory")
	simulateCmd.Flags().BoolVar(&simOffline, "offline", false, "use the scripted model and hash embeddings instead of configured providers")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "print results as JSON")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	if simAgents < 1 {
		return fmt.Errorf("--agents must be at least 1, got %d", simAgents)
	}

	scenarios := []simulation.Scenario{simulation.DefaultScenario(simAgents)}
	if simScenario != "" {
		loaded, err := simulation.LoadScenarios(simScenario)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("agents") {
			for i := range loaded {
				loaded[i].Agents = simAgents
			}
		}
		scenarios = loaded
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	clock := simulation.NewClock(simulation.DefaultStart)
	build := []services.BuildOption{services.WithClock(clock.Now)}
	if simOffline {
		cfg.Embeddings.Provider = config.ProviderHash
		cfg.Embeddings.FallbackChain = []string{}
		build = append(build, services.WithLLMClients(simulation.ScriptedModel{}, llm.HeuristicClient{}))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := newRuntime(cfg, logger, build, agent.WithClock(clock.Now))
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	runner, err := simulation.NewRunner(simulation.RunnerConfig{
		Runtime: rt,
		Clock:   clock,
		Logger:  logger.Underlying().Named("simulation"),
	})
	if err != nil {
		return err
	}

	results, err := runner.RunScenarios(cmd.Context(), scenarios)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if simJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	} else {
		for _, res := range results {
			printResult(out, res)
		}
	}

	var failed []string
	for _, res := range results {
		if !res.Passed {
			failed = append(failed, res.Scenario)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("scenarios failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func printResult(w io.Writer, res simulation.Result) {
	status := "PASS"
	if !res.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(w, "=== %s %s (%s)\n", status, res.Scenario, res.Duration.Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(w, "error: %s\n", res.Error)
	}
	for _, ar := range res.Agents {
		m := ar.Stats.Memory
		fmt.Fprintf(w, "\n--- %s: %d observations, %d plans, %d reflections, depth %d\n",
			ar.ID, m.Observations, m.Plans, m.Reflections, ar.Stats.TreeDepth)
		printTree(w, ar.Tree)
		for _, a := range ar.Assertions {
			if !a.Passed {
				fmt.Fprintf(w, "  assertion %s failed: %s\n", a.Assertion.Type, a.Message)
			}
		}
	}
	fmt.Fprintln(w)
}

// printTree lists reflections from the highest level down.
func printTree(w io.Writer, t *memory.Tree) {
	if t == nil || t.Len() == 0 {
		fmt.Fprintln(w, "  (no reflections)")
		return
	}
	levels := t.Levels()
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		fmt.Fprintf(w, "  level %d\n", l)
		for _, n := range t.Level(l) {
			fmt.Fprintf(w, "    [%s] %s (importance %d, confidence %.2f, %d evidence)\n",
				n.Category, n.Text, n.Importance, n.Confidence, len(n.EvidenceIDs))
		}
	}
}
