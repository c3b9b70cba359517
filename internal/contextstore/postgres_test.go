package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/agentcore/pkg/models"
)

func setupPostgresMock(t *testing.T) (sqlmock.Sqlmock, *PostgresBacking) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return mock, &PostgresBacking{db: db}
}

func TestPostgresBacking_Load_Hit(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	ctxt := models.NewProjectContext("proj-1", "/workspace/proj-1")
	raw, err := json.Marshal(ctxt)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT context FROM agent_context WHERE project_id = \\$1").
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"context"}).AddRow(raw))

	got, err := backing.Load(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBacking_Load_Miss(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	mock.ExpectQuery("SELECT context FROM agent_context WHERE project_id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	got, err := backing.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresBacking_Load_DecodeError(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	mock.ExpectQuery("SELECT context FROM agent_context WHERE project_id = \\$1").
		WithArgs("proj-bad").
		WillReturnRows(sqlmock.NewRows([]string{"context"}).AddRow([]byte("not json")))

	got, err := backing.Load(context.Background(), "proj-bad")
	require.Error(t, err)
	assert.Nil(t, got)
}

func TestPostgresBacking_Save_Upserts(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	ctxt := models.NewProjectContext("proj-2", "/workspace/proj-2")

	mock.ExpectExec("INSERT INTO agent_context").
		WithArgs("proj-2", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := backing.Save(context.Background(), ctxt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBacking_Save_ExecError(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	ctxt := models.NewProjectContext("proj-err", "/workspace/proj-err")

	mock.ExpectExec("INSERT INTO agent_context").
		WithArgs("proj-err", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := backing.Save(context.Background(), ctxt)
	require.Error(t, err)
}

func TestPostgresBacking_ProjectExists_True(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("proj-3").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := backing.ProjectExists(context.Background(), "proj-3")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresBacking_ProjectExists_False(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("proj-missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := backing.ProjectExists(context.Background(), "proj-missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPostgresBacking_ProjectExists_Error(t *testing.T) {
	mock, backing := setupPostgresMock(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("proj-4").
		WillReturnError(errors.New("connection reset"))

	_, err := backing.ProjectExists(context.Background(), "proj-4")
	require.Error(t, err)
}
