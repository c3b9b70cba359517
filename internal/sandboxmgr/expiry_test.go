package sandboxmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweeper_MarksIdleSandboxesExpired(t *testing.T) {
	mgr, _ := testManager(t, NewFakeProvider())
	ctx := context.Background()

	_, err := mgr.EnsureSandbox(ctx, "stale", "node")
	require.NoError(t, err)
	mgr.mu.Lock()
	mgr.records["stale"].LastActivity = time.Now().Add(-time.Hour)
	mgr.mu.Unlock()

	_, err = mgr.EnsureSandbox(ctx, "fresh", "node")
	require.NoError(t, err)

	sweeper := NewExpirySweeper(mgr, time.Minute, time.Hour, nil)
	sweeper.sweep(ctx)

	assert.Equal(t, StateExpired, mgr.Snapshot("stale").State)
	assert.Equal(t, StateActive, mgr.Snapshot("fresh").State)
}

func TestIntervalSpec_RendersEveryDescriptor(t *testing.T) {
	assert.Equal(t, "@every 1m0s", intervalSpec(time.Minute))
}
