package main

import (
	"github.com/spf13/cobra"
)

// buildDoctorCmd creates the "doctor" command: a read-only config
// validation pass, useful before `serve` against an unfamiliar config
// file or in CI.
func buildDoctorCmd() *cobra.Command {
	var (
		configPath  string
		printSchema bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate a config file without starting the service",
		Long: `Load and validate a forgectl config file the same way "serve" does
(strict YAML decode, env overrides, defaults, then validateConfig), printing
the resolved effective configuration on success or the validation issues on
failure. Does not connect to the configured database or VM provider.

With --schema, prints the config file's JSON Schema instead, for editor
integration and CI validation of config files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				return runDoctorSchema(cmd)
			}
			if configPath == "" {
				configPath = defaultConfigPath
			}
			return runDoctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&printSchema, "schema", false, "Print the config JSON Schema instead of validating a file")
	return cmd
}
