// Package main implements the mazemind CLI: it serves the agent runtime over
// HTTP and runs scripted maze simulations.
package main

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/logging"
	"github.com/fyrsmithlabs/mazemind/internal/services"
	"github.com/spf13/cobra"
)

var (
	// configPath overrides ~/.config/mazemind/config.yaml
	configPath string

	// version information, set at build time
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mazemind",
	Short: "Memory, retrieval and reflection for simulated maze agents",
	Long: `mazemind runs the cognitive stack of simulated agents: a memory stream,
composite retrieval over recency, importance and relevance, and a reflection
engine that builds a tree of insights from what the agents experience.

Configuration is read from ~/.config/mazemind/config.yaml (or --config) and
MAZEMIND_* environment variables.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/mazemind/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "mazemind\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

// loadConfig reads the config file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// newRuntime builds the session services and an empty agent runtime over
// them. The runtime owns the services; closing it releases them.
func newRuntime(cfg *config.Config, logger *logging.Logger, build []services.BuildOption, opts ...agent.RuntimeOption) (*agent.Runtime, error) {
	zl := logger.Underlying()
	reg, err := services.NewFromConfig(cfg, zl, build...)
	if err != nil {
		return nil, fmt.Errorf("failed to build services: %w", err)
	}
	rt, err := agent.NewRuntime(reg, append([]agent.RuntimeOption{agent.WithLogger(zl.Named("agent"))}, opts...)...)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}
	return rt, nil
}
