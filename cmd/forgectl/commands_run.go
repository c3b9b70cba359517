package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command: one orchestrator turn against a
// project, from the CLI, without the request layer. Useful for smoke tests
// and for recording/replaying provider tapes.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		projectID  string
		recordTape string
		replayTape string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single agent turn against a project",
		Long: `Run a single agent turn against a project.

The turn uses the same component stack as serve (Context Store, Sandbox
Manager, Dev-Server Supervisor, Tool Registry, Orchestrator). The LLM
provider is resolved in this order:

1. --replay-tape FILE replays a previously recorded provider tape,
   making the turn fully deterministic and offline.
2. Otherwise the stub provider is used, which ends the turn immediately
   (the stack still starts, restores, and persists).

--record-tape FILE records every provider response and tool run of the
turn to FILE for later replay.`,
		Example: `  # Smoke-test the stack with the stub provider
  forgectl run --project demo "build me a landing page"

  # Replay a recorded session deterministically
  forgectl run --project demo --replay-tape turn.tape.json "build me a landing page"

  # Record a turn for later replay
  forgectl run --project demo --record-tape turn.tape.json "build me a landing page"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath
			}
			return runTurn(cmd, runTurnOptions{
				configPath: configPath,
				projectID:  projectID,
				prompt:     args[0],
				recordTape: recordTape,
				replayTape: replayTape,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project id to run the turn against (required)")
	cmd.Flags().StringVar(&recordTape, "record-tape", "", "Record provider responses and tool runs to this file")
	cmd.Flags().StringVar(&replayTape, "replay-tape", "", "Replay provider responses from this tape file")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
