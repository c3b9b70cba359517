package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/agent/tape"
	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/devserver"
	"github.com/forgekit/agentcore/internal/orchestrator"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
	"github.com/forgekit/agentcore/internal/tools/project"
)

type runTurnOptions struct {
	configPath string
	projectID  string
	prompt     string
	recordTape string
	replayTape string
}

// runTurn wires the component stack the same way serve does, drives one
// orchestrator turn, and prints the resulting transcript as JSON.
func runTurn(cmd *cobra.Command, opts runTurnOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, closeStore, err := buildContextStore(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to build context store: %w", err)
	}
	defer closeStore()

	vmProvider, err := buildVMProvider(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("failed to build sandbox provider: %w", err)
	}
	sandboxMgr := sandboxmgr.New(vmProvider, store, cfg.Sandbox, nil)
	devSupervisor := devserver.NewSupervisor(sandboxMgr, store, cfg.DevServer, nil)

	registry := agent.NewToolRegistry()
	project.Register(registry, project.Deps{
		Store:     store,
		Sandbox:   sandboxMgr,
		DevServer: devSupervisor,
	})
	toolExec := agent.NewToolExecutor(registry, agent.ToolExecConfig{
		Concurrency:    cfg.Tools.Execution.Parallelism,
		PerToolTimeout: cfg.Tools.Execution.Timeout,
	})

	provider, finish, err := resolveRunProvider(opts)
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Config{
		Provider: provider,
		Registry: registry,
		ToolExec: toolExec,
		Store:    store,
		Model:    cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel,
		MaxSteps: cfg.Tools.Execution.MaxIterations,
	})

	result, err := orch.Run(cmd.Context(), orchestrator.RunOptions{
		ProjectID:   opts.projectID,
		UserMessage: opts.prompt,
	})
	if result != nil {
		out, marshalErr := json.MarshalIndent(result.Messages, "", "  ")
		if marshalErr == nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
	}
	if err != nil {
		return err
	}
	return finish()
}

// resolveRunProvider picks the turn's LLM provider: a tape replayer, the
// stub, or either wrapped in a recorder. The returned finish func flushes
// the recorded tape to disk, if recording.
func resolveRunProvider(opts runTurnOptions) (agent.LLMProvider, func() error, error) {
	var provider agent.LLMProvider
	if opts.replayTape != "" {
		data, err := os.ReadFile(opts.replayTape)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read tape: %w", err)
		}
		t, err := tape.Unmarshal(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse tape: %w", err)
		}
		provider = tape.NewReplayer(t)
	} else {
		stub, err := newLLMProvider(true)
		if err != nil {
			return nil, nil, err
		}
		provider = stub
	}

	if opts.recordTape == "" {
		return provider, func() error { return nil }, nil
	}

	recorder := tape.NewRecorder(provider)
	finish := func() error {
		data, err := recorder.Tape().Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal tape: %w", err)
		}
		if err := os.WriteFile(opts.recordTape, data, 0o644); err != nil {
			return fmt.Errorf("failed to write tape: %w", err)
		}
		return nil
	}
	return recorder, finish, nil
}
