package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and MAZEMIND_*
environment variables are applied. Provider API keys are redacted.

Examples:
  # Show the configuration
  mazemind config

  # Check an override
  MAZEMIND_REFLECTION_THRESHOLD=100 mazemind config`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
