package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/forgekit/agentcore/pkg/models"
)

// PostgresConfig configures connection pooling for the Postgres-backed
// Backing. The same settings work against CockroachDB: the wire protocol
// is identical, only the DSN differs.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns conservative default pool settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresBacking persists each project's ProjectContext as a single JSON
// row in agent_context, one JSON-encoded row per project
// rather than normalizing it into per-field columns.
type PostgresBacking struct {
	db *sql.DB
}

// NewPostgresBacking opens a connection pool against dsn and verifies it
// with a ping, verifying connectivity up front.
func NewPostgresBacking(dsn string, cfg PostgresConfig) (*PostgresBacking, error) {
	if dsn == "" {
		return nil, fmt.Errorf("contextstore: postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("contextstore: open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("contextstore: ping postgres: %w", err)
	}
	return &PostgresBacking{db: db}, nil
}

// EnsureSchema creates the tables this backing needs if they don't already
// exist. Safe to call on every startup; idempotent.
func (b *PostgresBacking) EnsureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS agent_context (
			project_id TEXT PRIMARY KEY REFERENCES projects(id),
			context JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("contextstore: ensure postgres schema: %w", err)
	}
	return nil
}

// Load returns nil, nil on a miss (matching Backing's contract), letting
// MemoryStore decide whether that's ErrProjectMissing or a fresh context.
func (b *PostgresBacking) Load(ctx context.Context, projectID string) (*models.ProjectContext, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT context FROM agent_context WHERE project_id = $1`, projectID)

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

// Save upserts the whole context as one JSON column, following the
// INSERT ... ON CONFLICT DO UPDATE idiom for atomic
// create-or-replace without a separate existence check.
func (b *PostgresBacking) Save(ctx context.Context, ctxt *models.ProjectContext) error {
	raw, err := json.Marshal(ctxt)
	if err != nil {
		return fmt.Errorf("contextstore: encode %s: %w", ctxt.ProjectID, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO agent_context (project_id, context, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id) DO UPDATE SET context = $2, updated_at = $3
	`, ctxt.ProjectID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("contextstore: save %s: %w", ctxt.ProjectID, err)
	}
	return nil
}

// ProjectExists checks the external projects table, not agent_context
// itself — a project can exist before its context row is ever written.
func (b *PostgresBacking) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)`, projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contextstore: check project %s: %w", projectID, err)
	}
	return exists, nil
}

// Close releases the underlying connection pool.
func (b *PostgresBacking) Close() error { return b.db.Close() }
