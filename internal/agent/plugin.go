package agent

import (
	"context"
	"sync"

	"github.com/forgekit/agentcore/pkg/models"
)

// Plugin is implemented by types that want to observe agent events.
// Implementations must be safe to call from multiple goroutines.
type Plugin interface {
	OnEvent(ctx context.Context, e models.AgentEvent)
}

// PluginFunc adapts a plain function to the Plugin interface.
type PluginFunc func(ctx context.Context, e models.AgentEvent)

// OnEvent calls the wrapped function.
func (f PluginFunc) OnEvent(ctx context.Context, e models.AgentEvent) {
	f(ctx, e)
}

// PluginRegistry holds a set of plugins and dispatches events to all of them.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewPluginRegistry creates a new empty plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{}
}

// Use registers a plugin to receive dispatched events.
func (r *PluginRegistry) Use(p Plugin) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Emit dispatches the event to every registered plugin.
func (r *PluginRegistry) Emit(ctx context.Context, e models.AgentEvent) {
	r.mu.RLock()
	plugins := make([]Plugin, len(r.plugins))
	copy(plugins, r.plugins)
	r.mu.RUnlock()

	for _, p := range plugins {
		p.OnEvent(ctx, e)
	}
}
