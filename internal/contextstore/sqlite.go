package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forgekit/agentcore/pkg/models"
)

// SQLiteBacking is the local/dev alternative to PostgresBacking: same
// agent_context JSON-row shape, same Backing contract, a pure-Go driver
// instead of a network round trip.
type SQLiteBacking struct {
	db *sql.DB
}

// NewSQLiteBacking opens path (a file path, or ":memory:" for tests) and
// verifies it with a ping.
func NewSQLiteBacking(path string) (*SQLiteBacking, error) {
	if path == "" {
		return nil, fmt.Errorf("contextstore: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("contextstore: open sqlite: %w", err)
	}
	// SQLite serializes writes at the file level; a single connection avoids
	// "database is locked" errors under concurrent access.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("contextstore: ping sqlite: %w", err)
	}
	return &SQLiteBacking{db: db}, nil
}

// EnsureSchema creates the tables this backing needs if they don't already
// exist. Safe to call on every startup; idempotent.
func (b *SQLiteBacking) EnsureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS agent_context (
			project_id TEXT PRIMARY KEY REFERENCES projects(id),
			context BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("contextstore: ensure sqlite schema: %w", err)
	}
	return nil
}

func (b *SQLiteBacking) Load(ctx context.Context, projectID string) (*models.ProjectContext, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT context FROM agent_context WHERE project_id = ?`, projectID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("contextstore: load %s: %w", projectID, err)
	}

	var ctxt models.ProjectContext
	if err := json.Unmarshal(raw, &ctxt); err != nil {
		return nil, fmt.Errorf("contextstore: decode %s: %w", projectID, err)
	}
	return &ctxt, nil
}

func (b *SQLiteBacking) Save(ctx context.Context, ctxt *models.ProjectContext) error {
	raw, err := json.Marshal(ctxt)
	if err != nil {
		return fmt.Errorf("contextstore: encode %s: %w", ctxt.ProjectID, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO agent_context (project_id, context, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at
	`, ctxt.ProjectID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("contextstore: save %s: %w", ctxt.ProjectID, err)
	}
	return nil
}

func (b *SQLiteBacking) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM projects WHERE id = ?)`, projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contextstore: check project %s: %w", projectID, err)
	}
	return exists, nil
}

// Close releases the underlying connection.
func (b *SQLiteBacking) Close() error { return b.db.Close() }
