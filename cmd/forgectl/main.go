// Package main provides the CLI entry point for forgectl, the process that
// hosts the Context Store, Sandbox Manager, Dev-Server Supervisor, Tool
// Registry, and Agent Orchestrator described in this module.
//
// forgectl wires those five components together against a YAML
// configuration file and runs them as a long-lived service; it does not
// itself speak HTTP to end users (that's the request layer, out of this
// module's scope) but exposes a metrics/health surface for operators.
//
// # Basic Usage
//
// Start the service:
//
//	forgectl serve --config forgectl.yaml
//
// Apply durable-store schema migrations:
//
//	forgectl migrate up
//
// # Environment Variables
//
//   - FORGECTL_DATABASE_URL: overrides database.url from the config file
//   - FORGECTL_WORKSPACE_PATH: overrides workspace.path
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forgectl",
		Short: "forgectl - agent-driven sandbox builder core",
		Long: `forgectl hosts the Context Store, Sandbox Manager, Dev-Server
Supervisor, Tool Registry, and Agent Orchestrator that drive an LLM agent
through a tool-calling loop against a per-project ephemeral VM sandbox.

The request layer, authentication, and the concrete LLM/VM provider SDKs
are external collaborators, not part of this binary.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildMigrateCmd(),
		buildStatusCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}
