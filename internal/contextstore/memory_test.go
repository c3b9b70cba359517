package contextstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/agentcore/pkg/models"
)

// fakeBacking is an in-memory Backing that tracks loads/saves and can
// pretend the external project row is missing.
type fakeBacking struct {
	mu      sync.Mutex
	rows    map[string]*models.ProjectContext
	missing map[string]bool
	loads   int
	saves   int
}

func newFakeBacking() *fakeBacking {
	return &fakeBacking{
		rows:    make(map[string]*models.ProjectContext),
		missing: make(map[string]bool),
	}
}

func (b *fakeBacking) Load(ctx context.Context, projectID string) (*models.ProjectContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	if ctxt, ok := b.rows[projectID]; ok {
		return ctxt.Clone(), nil
	}
	return nil, nil
}

func (b *fakeBacking) Save(ctx context.Context, ctxt *models.ProjectContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	b.rows[ctxt.ProjectID] = ctxt.Clone()
	return nil
}

func (b *fakeBacking) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.missing[projectID], nil
}

func TestUpdate_WriteThrough(t *testing.T) {
	backing := newFakeBacking()
	store := New(backing, DefaultConfig())
	ctx := context.Background()

	name := "Landing Page"
	ctxt, err := store.Update(ctx, "p1", Patch{ProjectName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Landing Page", ctxt.ProjectName)

	// The write reached the durable backing, not just memory.
	assert.Equal(t, 1, backing.saves)
	assert.Equal(t, "Landing Page", backing.rows["p1"].ProjectName)
}

func TestUpdate_ProjectMissing(t *testing.T) {
	backing := newFakeBacking()
	backing.missing["ghost"] = true
	store := New(backing, DefaultConfig())

	name := "x"
	_, err := store.Update(context.Background(), "ghost", Patch{ProjectName: &name})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProjectMissing))

	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, models.KindNotFound, storeErr.Kind)
}

func TestUpdate_NormalizesFilePaths(t *testing.T) {
	store := New(nil, DefaultConfig())
	ctx := context.Background()

	ctxt, err := store.Update(ctx, "p1", Patch{Files: map[string]models.FileEntry{
		"/app/page.tsx":        {Content: "a", Status: models.FileCreated},
		"src/../lib/utils.ts":  {Content: "b", Status: models.FileCreated},
		"../../../etc/passwd":  {Content: "c", Status: models.FileCreated},
	}})
	require.NoError(t, err)

	_, hasLeadingSlash := ctxt.Files["/app/page.tsx"]
	assert.False(t, hasLeadingSlash)
	assert.Contains(t, ctxt.Files, "app/page.tsx")
	assert.Contains(t, ctxt.Files, "lib/utils.ts")

	for path := range ctxt.Files {
		assert.NotContains(t, path, "..")
		assert.False(t, len(path) > 0 && path[0] == '/')
	}
}

func TestGet_LazyLoadsFromBacking(t *testing.T) {
	backing := newFakeBacking()
	backing.rows["p1"] = models.NewProjectContext("p1", "/home/user/project")
	backing.rows["p1"].ProjectName = "Persisted"
	store := New(backing, DefaultConfig())

	ctxt, err := store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Persisted", ctxt.ProjectName)
	assert.Equal(t, 1, backing.loads)

	// Second read is served from memory.
	_, err = store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.loads)
}

func TestGet_MissingProject(t *testing.T) {
	store := New(nil, DefaultConfig())
	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProjectMissing))
}

func TestInvalidate_NextGetRoundTripsBacking(t *testing.T) {
	backing := newFakeBacking()
	store := New(backing, DefaultConfig())
	ctx := context.Background()

	name := "v1"
	_, err := store.Update(ctx, "p1", Patch{ProjectName: &name})
	require.NoError(t, err)

	// Mutate the durable row behind the cache's back.
	backing.mu.Lock()
	backing.rows["p1"].ProjectName = "v2"
	backing.mu.Unlock()

	// Cached read still sees v1; after Invalidate the read reloads.
	ctxt, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "v1", ctxt.ProjectName)

	require.NoError(t, store.Invalidate(ctx, "p1"))
	ctxt, err = store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "v2", ctxt.ProjectName)
}

func TestToolHistory_RingEviction(t *testing.T) {
	store := New(nil, Config{MaxToolHistory: 3, MaxErrorHistory: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.AppendToolExecution(ctx, "p1", models.ToolExecution{
			Name:      fmt.Sprintf("tool-%d", i),
			StartedAt: time.Now(),
			Success:   true,
		})
		require.NoError(t, err)
	}

	ctxt, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, ctxt.ToolHistory, 3)
	// FIFO eviction: the oldest two are gone, order preserved.
	assert.Equal(t, "tool-2", ctxt.ToolHistory[0].Name)
	assert.Equal(t, "tool-4", ctxt.ToolHistory[2].Name)
}

func TestErrorHistory_RingEviction(t *testing.T) {
	store := New(nil, Config{MaxToolHistory: 3, MaxErrorHistory: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.AppendError(ctx, "p1", fmt.Sprintf("err-%d", i)))
	}

	ctxt, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"err-2", "err-3"}, ctxt.ErrorHistory)
}

func TestUpdateTaskStatus_RefusesUnsatisfiedDependencies(t *testing.T) {
	store := New(nil, DefaultConfig())
	ctx := context.Background()

	graph := &models.TaskGraph{Tasks: []models.Task{
		{ID: "t1", Title: "scaffold", Status: models.TaskPending},
		{ID: "t2", Title: "style", DependsOn: []string{"t1"}, Status: models.TaskPending},
	}}
	require.NoError(t, store.SetTaskGraph(ctx, "p1", graph))

	// t2 depends on t1, which is still pending.
	err := store.UpdateTaskStatus(ctx, "p1", "t2", models.TaskRunning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	// Complete t1, then t2 may run.
	require.NoError(t, store.UpdateTaskStatus(ctx, "p1", "t1", models.TaskCompleted))
	require.NoError(t, store.UpdateTaskStatus(ctx, "p1", "t2", models.TaskRunning))

	ctxt, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, ctxt.TaskGraph.ByID("t2").Status)
	assert.Equal(t, []string{"t1"}, ctxt.CompletedSteps)
}

func TestUpdateTaskStatus_UnknownTask(t *testing.T) {
	store := New(nil, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, store.SetTaskGraph(ctx, "p1", &models.TaskGraph{}))
	err := store.UpdateTaskStatus(ctx, "p1", "ghost", models.TaskRunning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestMarkStepComplete_RecordsOrder(t *testing.T) {
	store := New(nil, DefaultConfig())
	ctx := context.Background()

	graph := &models.TaskGraph{Tasks: []models.Task{
		{ID: "a", Status: models.TaskPending},
		{ID: "b", Status: models.TaskPending},
	}}
	require.NoError(t, store.SetTaskGraph(ctx, "p1", graph))
	require.NoError(t, store.MarkStepComplete(ctx, "p1", "b"))
	require.NoError(t, store.MarkStepComplete(ctx, "p1", "a"))

	ctxt, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ctxt.CompletedSteps)
}

func TestConcurrentAppends_StayBounded(t *testing.T) {
	store := New(nil, Config{MaxToolHistory: 10, MaxErrorHistory: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.AppendToolExecution(ctx, "p1", models.ToolExecution{Name: fmt.Sprintf("t%d", n)})
			_ = store.AppendError(ctx, "p1", fmt.Sprintf("e%d", n))
		}(i)
	}
	wg.Wait()

	ctxt, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ctxt.ToolHistory), 10)
	assert.LessOrEqual(t, len(ctxt.ErrorHistory), 5)
}

func TestGet_ReturnsSnapshotNotAlias(t *testing.T) {
	store := New(nil, DefaultConfig())
	ctx := context.Background()

	name := "Original"
	_, err := store.Update(ctx, "p1", Patch{ProjectName: &name})
	require.NoError(t, err)

	ctxt, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	ctxt.ProjectName = "Mutated"
	ctxt.Files["rogue.ts"] = models.FileEntry{Content: "x"}

	fresh, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Original", fresh.ProjectName)
	assert.NotContains(t, fresh.Files, "rogue.ts")
}
