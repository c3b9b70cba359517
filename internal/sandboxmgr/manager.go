package sandboxmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/observability"
	"github.com/forgekit/agentcore/internal/retry"
	"github.com/forgekit/agentcore/pkg/models"
)

// livenessProbeTimeout bounds EnsureSandbox's active-handle fast path.
const livenessProbeTimeout = 2 * time.Second

// Manager is the Sandbox Manager: it owns VM handles and the per-project
// state machine, and persists only SandboxID back through the Context
// Store. All mutating operations on a given project serialize through a
// per-project lock; ensureSandbox additionally dedupes concurrent callers
// via singleflight so two tool calls racing to create a VM share one
// creation.
type Manager struct {
	mu      sync.Mutex
	records map[string]*Record
	handles map[string]VMHandle
	bg      map[string]map[string]BackgroundHandle // projectID -> purpose -> handle

	provider VMProvider
	store    contextstore.Store
	cfg      config.SandboxConfig
	logger   *slog.Logger

	group singleflight.Group
}

// New creates a Manager backed by provider, publishing SandboxStateChanged
// events and SandboxID updates through store.
func New(provider VMProvider, store contextstore.Store, cfg config.SandboxConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		records:  make(map[string]*Record),
		handles:  make(map[string]VMHandle),
		bg:       make(map[string]map[string]BackgroundHandle),
		provider: provider,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

func (m *Manager) recordFor(projectID string) *Record {
	r, ok := m.records[projectID]
	if !ok {
		r = &Record{ProjectID: projectID, State: StateIdle}
		m.records[projectID] = r
	}
	return r
}

// Snapshot returns a copy of the project's current sandbox record.
func (m *Manager) Snapshot(projectID string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recordFor(projectID)
}

// IdleProjects returns the project ids whose sandbox is active or paused and
// has had no activity since the given cutoff. Used by the expiry sweeper.
func (m *Manager) IdleProjects(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for projectID, r := range m.records {
		if r.State != StateActive && r.State != StatePaused {
			continue
		}
		last := r.LastActivity
		if last.IsZero() {
			last = r.CreatedAt
		}
		if last.Before(cutoff) {
			ids = append(ids, projectID)
		}
	}
	return ids
}

func (m *Manager) transition(ctx context.Context, r *Record, event Event) error {
	prev := r.State
	if err := r.apply(event); err != nil {
		return err
	}
	if r.State != prev {
		observability.EmitSandboxTransition(&observability.SandboxTransitionEvent{
			ProjectID: r.ProjectID,
			From:      string(prev),
			Event:     string(event),
			To:        string(r.State),
			SandboxID: r.SandboxID,
		})
		m.publish(ctx, r)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, r *Record) {
	if m.store == nil {
		return
	}
	m.store.Bus().Publish(models.Event{
		Type:      models.EventSandboxStateChanged,
		ProjectID: r.ProjectID,
		Payload: map[string]any{
			"state":      string(r.State),
			"sandboxId":  r.SandboxID,
			"retryCount": r.RetryCount,
			"error":      r.Err,
		},
	})
}

func (m *Manager) persistSandboxID(ctx context.Context, projectID, sandboxID string) {
	if m.store == nil {
		return
	}
	if _, err := m.store.Update(ctx, projectID, models.ContextPatch{SandboxID: &sandboxID}); err != nil {
		m.logger.Warn("sandboxmgr: failed to persist sandboxId", "project_id", projectID, "error", err)
	}
}

// EnsureSandbox resolves a live VM for the project:
//  1. If active and a liveness probe succeeds within 2s, return the handle.
//  2. Else, if paused or a sandboxId is known, attempt Connect with a
//     bounded deadline.
//  3. Else, request a new VM, emitting CREATE.
//  4. On success, restore any persisted file snapshot before marking active.
func (m *Manager) EnsureSandbox(ctx context.Context, projectID, templateID string) (VMHandle, error) {
	v, err, _ := m.group.Do(projectID, func() (interface{}, error) {
		return m.ensureSandboxLocked(ctx, projectID, templateID)
	})
	if err != nil {
		return nil, err
	}
	return v.(VMHandle), nil
}

func (m *Manager) ensureSandboxLocked(ctx context.Context, projectID, templateID string) (VMHandle, error) {
	m.mu.Lock()
	r := m.recordFor(projectID)
	state := r.State
	sandboxID := r.SandboxID
	handle := m.handles[projectID]
	m.mu.Unlock()

	// 1. Active + live handle.
	if state == StateActive && handle != nil {
		probeCtx, cancel := context.WithTimeout(ctx, livenessProbeTimeout)
		err := m.provider.Probe(probeCtx, handle)
		cancel()
		if err == nil {
			return handle, nil
		}
		// Liveness failed: treat like an expired VM so the caller can
		// recreate, rather than parking the record in error.
		m.mu.Lock()
		_ = m.transition(ctx, r, EventExpire)
		m.mu.Unlock()
	}

	// 2. Paused, or a previously persisted sandboxId: try to reconnect.
	if sandboxID != "" {
		connectCtx, cancel := context.WithTimeout(ctx, m.cfg.BootTimeout)
		reconnected, connErr := m.provider.Connect(connectCtx, sandboxID)
		cancel()
		if connErr == nil {
			m.mu.Lock()
			m.handles[projectID] = reconnected
			if err := m.transition(ctx, r, EventCreated); err != nil {
				m.mu.Unlock()
				return nil, err
			}
			m.mu.Unlock()
			return reconnected, nil
		}
		// Connect-to-expired-VM surfaces as EXPIRE, not ERROR.
		m.mu.Lock()
		_ = m.transition(ctx, r, EventExpire)
		m.mu.Unlock()
	}

	// 3. Request a new VM.
	return m.createSandbox(ctx, projectID, templateID)
}

// createSandbox transitions a project to creating (via CREATE) and then
// provisions the VM. Used by the fresh-VM path in ensureSandboxLocked.
func (m *Manager) createSandbox(ctx context.Context, projectID, templateID string) (VMHandle, error) {
	m.mu.Lock()
	r := m.recordFor(projectID)
	if err := m.transition(ctx, r, EventCreate); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	return m.provisionVM(ctx, projectID, templateID, r)
}

// provisionVM does the actual VM creation, file restoration, and CREATED
// transition, assuming the record is already in the creating state (either
// via createSandbox's CREATE or Retry's RETRY).
func (m *Manager) provisionVM(ctx context.Context, projectID, templateID string, r *Record) (VMHandle, error) {
	createCtx, cancel := context.WithTimeout(ctx, m.cfg.BootTimeout)
	var handle VMHandle
	res := retry.Do(createCtx, retry.Config{
		MaxAttempts:  2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Factor:       2,
	}, func() error {
		h, createErr := m.provider.Create(createCtx, projectID, templateID)
		if createErr != nil {
			return createErr
		}
		handle = h
		return nil
	})
	cancel()
	err := res.Err
	if err != nil {
		m.mu.Lock()
		r.Err = err.Error()
		_ = m.transition(ctx, r, EventError)
		m.mu.Unlock()
		return nil, wrapErr("createSandbox", models.KindProviderUnavailable, err)
	}

	m.mu.Lock()
	m.handles[projectID] = handle
	r.SandboxID = handle.ID()
	r.SandboxURL = handle.URL()
	r.CreatedAt = time.Now()
	m.mu.Unlock()
	m.persistSandboxID(ctx, projectID, handle.ID())

	// 4. Restore any persisted file snapshot before marking active.
	if m.store != nil {
		snapshot, err := m.store.Get(ctx, projectID)
		if err == nil && len(snapshot.Files) > 0 {
			if err := m.restoreFiles(ctx, handle, projectID, snapshot.Files); err != nil {
				m.mu.Lock()
				r.Err = err.Error()
				_ = m.transition(ctx, r, EventError)
				m.mu.Unlock()
				return nil, err
			}
		}
	}

	m.mu.Lock()
	err = m.transition(ctx, r, EventCreated)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Retry re-attempts CREATE from the error state, bounded by MaxRetries.
func (m *Manager) Retry(ctx context.Context, projectID, templateID string) (VMHandle, error) {
	m.mu.Lock()
	r := m.recordFor(projectID)
	if err := m.transition(ctx, r, EventRetry); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	return m.provisionVM(ctx, projectID, templateID, r)
}

// Pause transitions an active sandbox to paused, suspending the VM in place
// when the provider supports it.
func (m *Manager) Pause(ctx context.Context, projectID string) error {
	m.mu.Lock()
	r := m.recordFor(projectID)
	err := m.transition(ctx, r, EventPause)
	handle := m.handles[projectID]
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if pr, ok := m.provider.(PauseResumer); ok && handle != nil {
		if err := pr.Pause(ctx, handle); err != nil {
			m.logger.Warn("sandboxmgr: provider pause failed", "project_id", projectID, "error", err)
		}
	}
	return nil
}

// MarkExpired transitions active/paused sandboxes to expired, typically
// called by the expiry sweeper once MaxIdleTime has elapsed.
func (m *Manager) MarkExpired(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordFor(projectID)
	return m.transition(ctx, r, EventExpire)
}

// Exec runs command inside the project's sandbox, ensuring one exists
// first. Default cwd is the project directory.
func (m *Manager) Exec(ctx context.Context, projectID, command, cwd string, timeout time.Duration) (ExecResult, error) {
	handle, err := m.EnsureSandbox(ctx, projectID, "")
	if err != nil {
		return ExecResult{}, err
	}
	if cwd == "" {
		cwd = m.projectDir(projectID)
	}
	if timeout <= 0 {
		timeout = m.cfg.ExecTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := m.provider.Exec(execCtx, handle, command, cwd, timeout)
	if err != nil && execCtx.Err() != nil {
		result.TimedOut = true
	}

	m.mu.Lock()
	r := m.recordFor(projectID)
	r.LastActivity = time.Now()
	m.mu.Unlock()

	if err != nil && !result.TimedOut {
		return result, wrapErr("exec", models.KindProviderUnavailable, err)
	}
	return result, nil
}

// WriteFiles ensures a sandbox exists for projectID and writes files (keyed
// by path relative to the project directory) into it.
func (m *Manager) WriteFiles(ctx context.Context, projectID string, files map[string]string) error {
	handle, err := m.EnsureSandbox(ctx, projectID, "")
	if err != nil {
		return err
	}
	if err := m.provider.WriteFiles(ctx, handle, files); err != nil {
		return wrapErr("writeFiles", models.KindProviderUnavailable, err)
	}

	m.mu.Lock()
	r := m.recordFor(projectID)
	r.LastActivity = time.Now()
	m.mu.Unlock()
	return nil
}

// StartBackground starts command detached inside the project's sandbox.
// Only one handle per (projectID, purpose) is tracked; starting again with
// the same purpose replaces the previous handle without killing it.
func (m *Manager) StartBackground(ctx context.Context, projectID, command, workingDir, purpose string) (BackgroundHandle, error) {
	handle, err := m.EnsureSandbox(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	if workingDir == "" {
		workingDir = m.projectDir(projectID)
	}

	bg, err := m.provider.StartBackground(ctx, handle, command, workingDir, purpose)
	if err != nil {
		return nil, wrapErr("startBackground", models.KindProviderUnavailable, err)
	}

	m.mu.Lock()
	if m.bg[projectID] == nil {
		m.bg[projectID] = make(map[string]BackgroundHandle)
	}
	m.bg[projectID][purpose] = bg
	m.mu.Unlock()

	return bg, nil
}

// KillBackground terminates the handle registered for (projectID, purpose),
// returning whether one existed.
func (m *Manager) KillBackground(ctx context.Context, projectID, purpose string) (bool, error) {
	m.mu.Lock()
	handle, hasVM := m.handles[projectID]
	purposes := m.bg[projectID]
	var bg BackgroundHandle
	if purposes != nil {
		bg = purposes[purpose]
	}
	m.mu.Unlock()

	if bg == nil || !hasVM {
		return false, nil
	}

	if err := m.provider.KillBackground(ctx, handle, bg); err != nil {
		return true, wrapErr("killBackground", models.KindProviderUnavailable, err)
	}

	m.mu.Lock()
	delete(m.bg[projectID], purpose)
	m.mu.Unlock()
	return true, nil
}

// Cleanup terminates background processes, releases the VM handle, and
// transitions to idle, publishing SandboxStateChanged(idle).
func (m *Manager) Cleanup(ctx context.Context, projectID string) error {
	m.mu.Lock()
	handle, hasVM := m.handles[projectID]
	purposes := m.bg[projectID]
	m.mu.Unlock()

	if hasVM {
		for purpose, bg := range purposes {
			if err := m.provider.KillBackground(ctx, handle, bg); err != nil {
				m.logger.Warn("sandboxmgr: failed to kill background job during cleanup",
					"project_id", projectID, "purpose", purpose, "error", err)
			}
		}
		if err := m.provider.Destroy(ctx, handle); err != nil {
			m.logger.Warn("sandboxmgr: failed to destroy VM during cleanup", "project_id", projectID, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.handles, projectID)
	delete(m.bg, projectID)
	r := m.recordFor(projectID)
	err := m.transition(ctx, r, EventCleanup)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.persistSandboxID(ctx, projectID, "")
	return nil
}
