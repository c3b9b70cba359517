package main

import (
	"context"
	"fmt"

	"github.com/forgekit/agentcore/internal/agent"
)

// dryRunProvider is a deterministic stand-in for a real LLM provider SDK,
// which this module treats as an external collaborator: only the
// agent.LLMProvider contract is defined here, never a concrete client.
// It never calls a model; it always ends the turn immediately with no tool
// calls, so `forgectl serve --dry-run` can stand the rest of the stack up
// (Context Store, Sandbox Manager, Dev-Server Supervisor, Tool Registry,
// Orchestrator) for an operator to smoke-test without a production API key.
// forgectl needs a concrete agent.LLMProvider to construct an Orchestrator
// at all, so this is that seam.
type dryRunProvider struct{}

func (dryRunProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{
		Text: "forgectl is running in --dry-run mode: no LLM provider is configured, " +
			"so this turn ends without any tool calls. Wire a real agent.LLMProvider " +
			"implementation and set llm.default_provider to drive real turns.",
		Done: true,
	}
	close(ch)
	return ch, nil
}

func (dryRunProvider) Name() string          { return "dry-run" }
func (dryRunProvider) Models() []agent.Model { return nil }
func (dryRunProvider) SupportsTools() bool   { return true }

// newLLMProvider resolves the orchestrator's model backend. Production
// deployments inject a real agent.LLMProvider (this module deliberately
// does not implement one); --dry-run substitutes the stub above so the
// rest of the stack is still exercisable.
func newLLMProvider(dryRun bool) (agent.LLMProvider, error) {
	if dryRun {
		return dryRunProvider{}, nil
	}
	return nil, fmt.Errorf("forgectl: no LLM provider configured; this module only " +
		"defines the agent.LLMProvider contract (see internal/agent/provider_types.go), " +
		"not a concrete client — inject one, or pass --dry-run to smoke-test without one")
}
