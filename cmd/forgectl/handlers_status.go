package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgekit/agentcore/internal/config"
)

// runStatus opens a short-lived Context Store against the configured
// backing and prints one project's current snapshot as JSON. It never
// touches the Sandbox Manager or Dev-Server Supervisor — this is a
// read-only durable-store inspection, not a liveness probe of a running
// forgectl serve process.
func runStatus(cmd *cobra.Command, configPath, projectID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, closeStore, err := buildContextStore(cfg, newSilentLogger())
	if err != nil {
		return fmt.Errorf("failed to build context store: %w", err)
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	ctxt, err := store.Get(ctx, projectID)
	if err != nil {
		return fmt.Errorf("get project %s: %w", projectID, err)
	}

	payload, err := json.MarshalIndent(ctxt, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project context: %w", err)
	}
	fmt.Println(string(payload))
	return nil
}
