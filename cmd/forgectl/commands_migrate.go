package main

import (
	"github.com/spf13/cobra"
)

// buildMigrateCmd creates the "migrate" command group that manages the
// Context Store's durable-backing schema (the `projects`/`agent_context`
// projects/messages/agent_context tables).
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the context store's durable schema",
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create the projects/agent_context tables if they don't exist",
		Long: `Create the context store's durable tables (projects, agent_context) if
they don't already exist. Safe to run repeatedly; EnsureSchema is
idempotent. Only applies to postgres and sqlite database.driver values —
the memory driver has no durable schema to migrate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath
			}
			return runMigrateUp(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the context store's durable schema is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath
			}
			return runMigrateStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
