package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements core.CheckpointStore on a local SQLite database.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{path: path, db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Save upserts the thread's checkpoint and bumps its revision.
func (s *SQLiteStore) Save(ctx context.Context, cp *core.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, node_name, status, state, checksum, created_at, updated_at, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(thread_id) DO UPDATE SET
			node_name = excluded.node_name,
			status = excluded.status,
			state = excluded.state,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at,
			revision = checkpoints.revision + 1`,
		string(cp.ThreadID), string(cp.Node), string(cp.Status), cp.State, cp.Checksum,
		cp.CreatedAt.UnixMilli(), cp.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", cp.ThreadID, err)
	}
	return nil
}

// Load returns the thread's checkpoint.
func (s *SQLiteStore) Load(ctx context.Context, id core.ThreadID) (*core.Checkpoint, error) {
	var (
		cp                   core.Checkpoint
		threadID, node, st   string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT thread_id, node_name, status, state, checksum, revision, created_at, updated_at
		FROM checkpoints WHERE thread_id = ?`, string(id),
	).Scan(&threadID, &node, &st, &cp.State, &cp.Checksum, &cp.Revision, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("checkpoint", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", id, err)
	}

	cp.ThreadID = core.ThreadID(threadID)
	cp.Node = core.NodeName(node)
	cp.Status = core.RunStatus(st)
	cp.CreatedAt = time.UnixMilli(createdAt).UTC()
	cp.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &cp, nil
}

// Delete removes the thread's checkpoint.
func (s *SQLiteStore) Delete(ctx context.Context, id core.ThreadID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, string(id)); err != nil {
		return fmt.Errorf("deleting checkpoint %s: %w", id, err)
	}
	return nil
}

// List returns all thread summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, node_name, status, updated_at
		FROM checkpoints ORDER BY updated_at DESC, thread_id`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []core.ThreadSummary
	for rows.Next() {
		var (
			id, node, st string
			updatedAt    int64
		)
		if err := rows.Scan(&id, &node, &st, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning checkpoint row: %w", err)
		}
		out = append(out, core.ThreadSummary{
			ThreadID:  core.ThreadID(id),
			Node:      core.NodeName(node),
			Status:    core.RunStatus(st),
			UpdatedAt: time.UnixMilli(updatedAt).UTC(),
		})
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
