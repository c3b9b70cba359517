package sandboxmgr

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/contextstore"
)

func testManager(t *testing.T, provider *FakeProvider) (*Manager, *contextstore.MemoryStore) {
	t.Helper()
	store := contextstore.New(nil, contextstore.DefaultConfig())
	cfg := config.SandboxConfig{
		BootTimeout:    time.Second,
		ExecTimeout:    time.Second,
		ExpiryInterval: time.Minute,
		MaxRetries:     MaxRetries,
	}
	return New(provider, store, cfg, slog.Default()), store
}

func TestEnsureSandbox_CreatesOnFirstCall(t *testing.T) {
	mgr, _ := testManager(t, NewFakeProvider())
	handle, err := mgr.EnsureSandbox(context.Background(), "proj-1", "node")
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID())
	assert.Equal(t, StateActive, mgr.Snapshot("proj-1").State)
}

func TestEnsureSandbox_ActiveFastPathReusesHandle(t *testing.T) {
	mgr, _ := testManager(t, NewFakeProvider())
	ctx := context.Background()

	first, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)

	second, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
}

func TestEnsureSandbox_ReconnectsViaSandboxID(t *testing.T) {
	provider := NewFakeProvider()
	mgr, _ := testManager(t, provider)
	ctx := context.Background()

	handle, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)

	require.NoError(t, mgr.Pause(ctx, "proj-1"))
	assert.Equal(t, StatePaused, mgr.Snapshot("proj-1").State)

	reconnected, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)
	assert.Equal(t, handle.ID(), reconnected.ID())
	assert.Equal(t, StateActive, mgr.Snapshot("proj-1").State)
}

func TestEnsureSandbox_ExpiredSandboxIDCreatesFresh(t *testing.T) {
	provider := NewFakeProvider()
	mgr, _ := testManager(t, provider)
	ctx := context.Background()

	handle, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)
	require.NoError(t, mgr.Pause(ctx, "proj-1"))

	provider.Expire(handle.ID())

	fresh, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)
	assert.NotEqual(t, handle.ID(), fresh.ID())
	assert.Equal(t, StateActive, mgr.Snapshot("proj-1").State)
}

func TestEnsureSandbox_DeadLivenessProbeSurfacesAsExpireNotError(t *testing.T) {
	provider := NewFakeProvider()
	mgr, _ := testManager(t, provider)
	ctx := context.Background()

	handle, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)

	// Kill the VM without going through Pause/MarkExpired so the manager
	// still believes it is active; the next EnsureSandbox has to discover
	// this via the liveness probe.
	provider.Expire(handle.ID())

	fresh, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)
	assert.NotEqual(t, handle.ID(), fresh.ID())
}

func TestRetry_RespectsCapThenRequiresCleanup(t *testing.T) {
	provider := NewFakeProvider()
	mgr, _ := testManager(t, provider)
	ctx := context.Background()

	r := mgr.recordFor("proj-1")
	r.State = StateError

	for i := 0; i < MaxRetries; i++ {
		_, err := mgr.Retry(ctx, "proj-1", "node")
		require.NoError(t, err)
		// back to error for the next attempt except the last.
		mgr.mu.Lock()
		mgr.records["proj-1"].State = StateError
		mgr.mu.Unlock()
	}

	_, err := mgr.Retry(ctx, "proj-1", "node")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryCapExceeded)

	require.NoError(t, mgr.Cleanup(ctx, "proj-1"))
	assert.Equal(t, StateIdle, mgr.Snapshot("proj-1").State)
	assert.Zero(t, mgr.Snapshot("proj-1").RetryCount)
}

func TestExec_RunsCommandAndTracksActivity(t *testing.T) {
	mgr, _ := testManager(t, NewFakeProvider())
	ctx := context.Background()

	result, err := mgr.Exec(ctx, "proj-1", "echo hi", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, mgr.Snapshot("proj-1").LastActivity.IsZero())
}

func TestBackgroundJobs_StartAndKill(t *testing.T) {
	mgr, _ := testManager(t, NewFakeProvider())
	ctx := context.Background()

	_, err := mgr.StartBackground(ctx, "proj-1", "npm run dev", "", "dev-server")
	require.NoError(t, err)

	killed, err := mgr.KillBackground(ctx, "proj-1", "dev-server")
	require.NoError(t, err)
	assert.True(t, killed)

	killed, err = mgr.KillBackground(ctx, "proj-1", "dev-server")
	require.NoError(t, err)
	assert.False(t, killed, "second kill of the same purpose finds nothing")
}

func TestIdleProjects_ReturnsOnlyStaleActiveOrPaused(t *testing.T) {
	mgr, _ := testManager(t, NewFakeProvider())
	ctx := context.Background()

	_, err := mgr.EnsureSandbox(ctx, "fresh", "node")
	require.NoError(t, err)

	_, err = mgr.EnsureSandbox(ctx, "stale", "node")
	require.NoError(t, err)
	mgr.mu.Lock()
	mgr.records["stale"].LastActivity = time.Now().Add(-time.Hour)
	mgr.mu.Unlock()

	idle := mgr.IdleProjects(time.Now().Add(-time.Minute))
	assert.Contains(t, idle, "stale")
	assert.NotContains(t, idle, "fresh")
}

func TestCleanup_DestroysVMAndClearsBackgroundJobs(t *testing.T) {
	mgr, _ := testManager(t, NewFakeProvider())
	ctx := context.Background()

	_, err := mgr.EnsureSandbox(ctx, "proj-1", "node")
	require.NoError(t, err)
	_, err = mgr.StartBackground(ctx, "proj-1", "npm run dev", "", "dev-server")
	require.NoError(t, err)

	require.NoError(t, mgr.Cleanup(ctx, "proj-1"))
	assert.Equal(t, StateIdle, mgr.Snapshot("proj-1").State)
	assert.Empty(t, mgr.Snapshot("proj-1").SandboxID)

	killed, err := mgr.KillBackground(ctx, "proj-1", "dev-server")
	require.NoError(t, err)
	assert.False(t, killed)
}
