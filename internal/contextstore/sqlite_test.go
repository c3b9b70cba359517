package contextstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/agentcore/pkg/models"
)

func newTestSQLiteBacking(t *testing.T) *SQLiteBacking {
	backing, err := NewSQLiteBacking(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })

	require.NoError(t, backing.EnsureSchema(context.Background()))
	return backing
}

func seedProject(t *testing.T, backing *SQLiteBacking, projectID string) {
	_, err := backing.db.ExecContext(context.Background(),
		`INSERT INTO projects (id) VALUES (?)`, projectID)
	require.NoError(t, err)
}

func TestSQLiteBacking_Load_Miss(t *testing.T) {
	backing := newTestSQLiteBacking(t)

	got, err := backing.Load(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteBacking_SaveThenLoad(t *testing.T) {
	backing := newTestSQLiteBacking(t)
	seedProject(t, backing, "proj-1")

	ctxt := models.NewProjectContext("proj-1", "/workspace/proj-1")
	ctxt.ProjectName = "proj-1"
	require.NoError(t, backing.Save(context.Background(), ctxt))

	got, err := backing.Load(context.Background(), "proj-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "/workspace/proj-1", got.ProjectDir)
}

func TestSQLiteBacking_Save_UpsertOverwritesExisting(t *testing.T) {
	backing := newTestSQLiteBacking(t)
	seedProject(t, backing, "proj-2")

	first := models.NewProjectContext("proj-2", "/workspace/proj-2")
	first.ProjectName = "before"
	require.NoError(t, backing.Save(context.Background(), first))

	second := models.NewProjectContext("proj-2", "/workspace/proj-2")
	second.ProjectName = "after"
	require.NoError(t, backing.Save(context.Background(), second))

	got, err := backing.Load(context.Background(), "proj-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "after", got.ProjectName)

	var rowCount int
	row := backing.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM agent_context WHERE project_id = ?`, "proj-2")
	require.NoError(t, row.Scan(&rowCount))
	assert.Equal(t, 1, rowCount)
}

func TestSQLiteBacking_ProjectExists(t *testing.T) {
	backing := newTestSQLiteBacking(t)
	seedProject(t, backing, "proj-3")

	exists, err := backing.ProjectExists(context.Background(), "proj-3")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = backing.ProjectExists(context.Background(), "proj-unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteBacking_EnsureSchema_Idempotent(t *testing.T) {
	backing := newTestSQLiteBacking(t)
	require.NoError(t, backing.EnsureSchema(context.Background()))
	require.NoError(t, backing.EnsureSchema(context.Background()))
}
