package main

import (
	"github.com/spf13/cobra"
)

// buildStatusCmd creates the "status" command, a quick operator-facing
// check of one project's current state as the Context Store sees it.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <project-id>",
		Short: "Print a project's current context store snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath
			}
			return runStatus(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
