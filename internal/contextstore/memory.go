package contextstore

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/forgekit/agentcore/pkg/models"
)

// Backing is the durable persistence this store writes through to. A
// MemoryStore with a nil Backing is memory-only, useful for tests.
type Backing interface {
	Load(ctx context.Context, projectID string) (*models.ProjectContext, error)
	Save(ctx context.Context, ctxt *models.ProjectContext) error
	// ProjectExists reports whether the external project row exists, used to
	// enforce the FK-like invariant before persisting a context row.
	ProjectExists(ctx context.Context, projectID string) (bool, error)
}

// MemoryStore is the in-memory write-through cache in front of a Backing.
// A per-project lock serializes writes; reads take a snapshot under RLock.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.ProjectContext
	locks   map[string]*sync.Mutex

	backing Backing
	bus     *EventBus
	cfg     Config
}

// New creates a MemoryStore. backing may be nil for a pure in-memory store.
func New(backing Backing, cfg Config) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*models.ProjectContext),
		locks:   make(map[string]*sync.Mutex),
		backing: backing,
		bus:     NewEventBus(nil),
		cfg:     cfg.sanitized(),
	}
}

func (s *MemoryStore) projectLock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

func (s *MemoryStore) Bus() *EventBus { return s.bus }

func (s *MemoryStore) Close() error { return nil }

// Get returns the current snapshot, lazily loading from backing on miss.
func (s *MemoryStore) Get(ctx context.Context, projectID string) (*models.ProjectContext, error) {
	s.mu.RLock()
	entry, ok := s.entries[projectID]
	s.mu.RUnlock()
	if ok {
		return entry.Clone(), nil
	}

	if s.backing == nil {
		return nil, wrapErr("get", models.KindNotFound, ErrProjectMissing)
	}

	loaded, err := s.backing.Load(ctx, projectID)
	if err != nil {
		return nil, wrapErr("get", models.KindInternal, err)
	}
	if loaded == nil {
		return nil, wrapErr("get", models.KindNotFound, ErrProjectMissing)
	}

	s.mu.Lock()
	s.entries[projectID] = loaded
	s.mu.Unlock()
	return loaded.Clone(), nil
}

func (s *MemoryStore) getOrCreateLocked(ctx context.Context, projectID string) (*models.ProjectContext, error) {
	s.mu.RLock()
	entry, ok := s.entries[projectID]
	s.mu.RUnlock()
	if ok {
		return entry, nil
	}
	if s.backing != nil {
		loaded, err := s.backing.Load(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			s.mu.Lock()
			s.entries[projectID] = loaded
			s.mu.Unlock()
			return loaded, nil
		}
	}
	fresh := models.NewProjectContext(projectID, "")
	s.mu.Lock()
	s.entries[projectID] = fresh
	s.mu.Unlock()
	return fresh, nil
}

// Update applies patch and persists it. Fails with ErrProjectMissing if the
// external project row does not exist.
func (s *MemoryStore) Update(ctx context.Context, projectID string, patch Patch) (*models.ProjectContext, error) {
	if s.backing != nil {
		exists, err := s.backing.ProjectExists(ctx, projectID)
		if err != nil {
			return nil, wrapErr("update", models.KindInternal, err)
		}
		if !exists {
			return nil, wrapErr("update", models.KindNotFound, ErrProjectMissing)
		}
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctxt, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return nil, wrapErr("update", models.KindInternal, err)
	}

	applyPatch(ctxt, patch)
	ctxt.LastActivity = time.Now()

	if err := s.persist(ctx, ctxt); err != nil {
		return nil, err
	}

	s.bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: projectID})
	if patch.Files != nil {
		s.bus.Publish(models.Event{Type: models.EventFilesChanged, ProjectID: projectID, Payload: len(patch.Files)})
	}
	if patch.BuildStatus != nil {
		s.bus.Publish(models.Event{Type: models.EventBuildStatusChanged, ProjectID: projectID, Payload: patch.BuildStatus})
	}
	if patch.ServerState != nil {
		s.bus.Publish(models.Event{Type: models.EventDevServerStateChanged, ProjectID: projectID, Payload: patch.ServerState})
	}

	return ctxt.Clone(), nil
}

func applyPatch(ctxt *models.ProjectContext, patch Patch) {
	if patch.ProjectName != nil {
		ctxt.ProjectName = *patch.ProjectName
	}
	if patch.SandboxID != nil {
		ctxt.SandboxID = *patch.SandboxID
	}
	for path, entry := range patch.Files {
		ctxt.Files[normalizePath(path)] = entry
	}
	for name, version := range patch.Dependencies {
		if ctxt.Dependencies == nil {
			ctxt.Dependencies = make(map[string]string)
		}
		ctxt.Dependencies[name] = version
	}
	if patch.BuildStatus != nil {
		ctxt.BuildStatus = patch.BuildStatus
	}
	if patch.ServerState != nil {
		ctxt.ServerState = patch.ServerState
	}
	if patch.TaskGraph != nil {
		ctxt.TaskGraph = patch.TaskGraph
	}
	if patch.CompletedSteps != nil {
		ctxt.CompletedSteps = patch.CompletedSteps
	}
}

func (s *MemoryStore) persist(ctx context.Context, ctxt *models.ProjectContext) error {
	if s.backing == nil {
		return nil
	}
	if err := s.backing.Save(ctx, ctxt); err != nil {
		return wrapErr("persist", models.KindInternal, err)
	}
	return nil
}

// AppendToolExecution pushes exec onto the toolHistory ring.
func (s *MemoryStore) AppendToolExecution(ctx context.Context, projectID string, exec models.ToolExecution) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctxt, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return wrapErr("appendToolExecution", models.KindInternal, err)
	}

	ctxt.ToolHistory = append(ctxt.ToolHistory, exec)
	if over := len(ctxt.ToolHistory) - s.cfg.MaxToolHistory; over > 0 {
		ctxt.ToolHistory = ctxt.ToolHistory[over:]
	}
	ctxt.LastActivity = time.Now()

	if err := s.persist(ctx, ctxt); err != nil {
		return err
	}
	s.bus.Publish(models.Event{Type: models.EventToolExecuted, ProjectID: projectID, Payload: exec})
	return nil
}

// AppendError pushes msg onto the errorHistory ring.
func (s *MemoryStore) AppendError(ctx context.Context, projectID string, msg string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctxt, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return wrapErr("appendError", models.KindInternal, err)
	}

	ctxt.ErrorHistory = append(ctxt.ErrorHistory, msg)
	if over := len(ctxt.ErrorHistory) - s.cfg.MaxErrorHistory; over > 0 {
		ctxt.ErrorHistory = ctxt.ErrorHistory[over:]
	}

	return s.persist(ctx, ctxt)
}

// MarkStepComplete transitions a task to completed and records it in order.
func (s *MemoryStore) MarkStepComplete(ctx context.Context, projectID, taskID string) error {
	return s.UpdateTaskStatus(ctx, projectID, taskID, models.TaskCompleted)
}

// SetTaskGraph replaces the project's task graph wholesale.
func (s *MemoryStore) SetTaskGraph(ctx context.Context, projectID string, graph *models.TaskGraph) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctxt, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return wrapErr("setTaskGraph", models.KindInternal, err)
	}
	ctxt.TaskGraph = graph
	if err := s.persist(ctx, ctxt); err != nil {
		return err
	}
	s.bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: projectID})
	return nil
}

// UpdateTaskStatus transitions taskID to status, refusing to mark a task
// `running` unless every dependency is `completed`.
func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, projectID, taskID string, status models.TaskStatus) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctxt, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return wrapErr("updateTaskStatus", models.KindInternal, err)
	}
	if ctxt.TaskGraph == nil {
		return wrapErr("updateTaskStatus", models.KindNotFound, ErrTaskNotFound)
	}
	task := ctxt.TaskGraph.ByID(taskID)
	if task == nil {
		return wrapErr("updateTaskStatus", models.KindNotFound, ErrTaskNotFound)
	}
	if status == models.TaskRunning && !ctxt.TaskGraph.DependenciesSatisfied(taskID) {
		return wrapErr("updateTaskStatus", models.KindStateConflict, ErrIllegalTransition)
	}

	task.Status = status
	if status == models.TaskCompleted {
		ctxt.CompletedSteps = append(ctxt.CompletedSteps, taskID)
	}

	if err := s.persist(ctx, ctxt); err != nil {
		return err
	}
	s.bus.Publish(models.Event{Type: models.EventContextChanged, ProjectID: projectID, Payload: taskID})
	return nil
}

// Invalidate drops the memory entry and publishes ContextChanged.
func (s *MemoryStore) Invalidate(ctx context.Context, projectID string) error {
	s.mu.Lock()
	delete(s.entries, projectID)
	s.mu.Unlock()
	s.bus.Publish(models.Event{Type: models.EventContextChanged, ProjectID: projectID})
	return nil
}

// normalizePath enforces the Context Store's file-key invariant: no leading
// slash, no ".." segments. A cleaned path that still tries to climb above
// the project root collapses to its base name rather than being stored
// under a traversal-shaped key.
func normalizePath(p string) string {
	p = strings.TrimLeft(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return path.Base(p)
	}
	return p
}
