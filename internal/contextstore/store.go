// Package contextstore implements the per-project write-through cache and
// event bus described as the Context Store: the canonical owner of project
// state, read through by every other component.
package contextstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgekit/agentcore/pkg/models"
)

// Sentinel errors, matched with errors.Is by callers that need to branch on
// cause rather than inspect a Kind.
var (
	ErrProjectMissing     = errors.New("context: project missing from durable store")
	ErrIllegalTransition  = errors.New("context: task status transition violates dependencies")
	ErrTaskNotFound       = errors.New("context: task not found in graph")
)

// Error wraps a Context Store failure with the shared error taxonomy.
type Error struct {
	Kind  models.ErrorKind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("contextstore: %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func wrapErr(op string, kind models.ErrorKind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Patch is an alias kept local so store implementations don't import models
// twice under different names; see models.ContextPatch for field semantics.
type Patch = models.ContextPatch

// Store is the Context Store's public surface. Every method is safe for
// concurrent use across projects; within a single project, writes serialize.
type Store interface {
	// Get returns the current snapshot for projectId, lazily loading from the
	// durable backing store on a memory miss.
	Get(ctx context.Context, projectID string) (*models.ProjectContext, error)

	// Update applies a partial patch and persists it immediately. Returns
	// ErrProjectMissing (wrapped, Kind=NotFound) if the external project row
	// does not exist.
	Update(ctx context.Context, projectID string, patch Patch) (*models.ProjectContext, error)

	// AppendToolExecution pushes exec onto the project's toolHistory ring,
	// evicting the oldest entry once MaxToolHistory is exceeded.
	AppendToolExecution(ctx context.Context, projectID string, exec models.ToolExecution) error

	// AppendError pushes msg onto the project's errorHistory ring.
	AppendError(ctx context.Context, projectID string, msg string) error

	// MarkStepComplete transitions a task to completed, recording it in
	// CompletedSteps in order.
	MarkStepComplete(ctx context.Context, projectID, taskID string) error

	// SetTaskGraph replaces the project's task graph wholesale.
	SetTaskGraph(ctx context.Context, projectID string, graph *models.TaskGraph) error

	// UpdateTaskStatus transitions a single task. Moving a task to `running`
	// is refused with ErrIllegalTransition (Kind=StateConflict) unless every
	// task it depends on is already `completed`.
	UpdateTaskStatus(ctx context.Context, projectID, taskID string, status models.TaskStatus) error

	// Invalidate drops the memory entry for projectID and publishes a
	// ContextChanged event; the next Get round-trips the durable store.
	Invalidate(ctx context.Context, projectID string) error

	// Bus returns the store's event bus for subscription.
	Bus() *EventBus

	// Close releases any underlying resources (DB connections, etc).
	Close() error
}

// Config holds tunables shared by every Store implementation.
type Config struct {
	MaxToolHistory  int
	MaxErrorHistory int
}

// DefaultConfig returns the standard ring capacities (50 tool history
// entries, 20 error history entries).
func DefaultConfig() Config {
	return Config{MaxToolHistory: 50, MaxErrorHistory: 20}
}

func (c Config) sanitized() Config {
	if c.MaxToolHistory <= 0 {
		c.MaxToolHistory = DefaultConfig().MaxToolHistory
	}
	if c.MaxErrorHistory <= 0 {
		c.MaxErrorHistory = DefaultConfig().MaxErrorHistory
	}
	return c
}
