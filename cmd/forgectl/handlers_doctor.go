package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgekit/agentcore/internal/config"
)

// runDoctor loads and validates configPath, printing the resolved config
// on success. config.Load already performs strict decoding, env overrides,
// default application, and validateConfig; a validation failure surfaces
// here as a *config.ConfigValidationError with every issue listed, not
// just the first.
func runDoctor(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config %s is invalid: %w", configPath, err)
	}

	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Printf("config %s is valid\n%s\n", configPath, payload)
	return nil
}

// runDoctorSchema prints the JSON Schema reflected off the Config struct.
func runDoctorSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate config schema: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}
