package main

import (
	"github.com/spf13/cobra"
)

// defaultConfigPath is the config file forgectl looks for when --config
// isn't given.
const defaultConfigPath = "forgectl.yaml"

// buildServeCmd creates the "serve" command that starts the core service:
// Context Store, Sandbox Manager, Dev-Server Supervisor, Tool Registry, and
// Agent Orchestrator, plus a metrics/health listener for operators.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent core service",
		Long: `Start the agent core service.

The process will:
1. Load configuration from the specified file (or forgectl.yaml)
2. Open the Context Store's durable backing (memory, postgres, or sqlite)
3. Construct the Sandbox Manager against the configured VM provider backend
4. Construct the Dev-Server Supervisor
5. Register the project tool set and the Agent Orchestrator
6. Start the expiry sweeper and the metrics/health HTTP listener

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  forgectl serve

  # Start with a custom config
  forgectl serve --config /etc/forgectl/production.yaml

  # Start with debug logging
  forgectl serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath
			}
			return runServe(cmd, configPath, debug, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Use a stub LLM provider instead of requiring a real one, for smoke-testing the rest of the stack")

	return cmd
}
