package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// SQLiteStore implements Store using SQLite. Waiting tasks survive a
// restart; the gateway re-arms polling for them on startup.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Schema version for migrations
const currentSchemaVersion = 1

// NewSQLiteStore opens (or creates) the task database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		L_warn("sqlite: failed to enable WAL mode", "error", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		L_warn("sqlite: failed to set busy_timeout", "error", err)
	}

	store := &SQLiteStore{db: db, path: path}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("sqlite: task store opened", "path", path)
	return store, nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, start from scratch
		version = 0
	}

	if version >= currentSchemaVersion {
		L_debug("sqlite: schema up to date", "version", version)
		return nil
	}

	L_info("sqlite: migrating schema", "from", version, "to", currentSchemaVersion)

	migrations := []func(*sql.DB) error{
		migrateV1,
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("sqlite: applied migration", "version", i+1)
	}

	return nil
}

// migrateV1 creates the initial schema
func migrateV1(db *sql.DB) error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	-- Pending tasks keyed by provider submission id
	CREATE TABLE IF NOT EXISTS pending_tasks (
		submission_id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,

		-- Request, recovery trail, and attempted set as JSON
		request_json TEXT NOT NULL,
		original_prompt TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		attempted_json TEXT NOT NULL DEFAULT '{}',
		last_tried TEXT NOT NULL DEFAULT '',
		trail_json TEXT NOT NULL DEFAULT '[]',

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deadline INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pending_task_id ON pending_tasks(task_id);
	CREATE INDEX IF NOT EXISTS idx_pending_deadline ON pending_tasks(deadline);
	`

	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	L_debug("sqlite: closing task store")
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, t *Task) error {
	requestJSON, err := json.Marshal(t.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	attemptedJSON, _ := json.Marshal(t.Attempted)
	trailJSON, _ := json.Marshal(t.Trail)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_tasks (submission_id, task_id, kind, provider, status,
		                           request_json, original_prompt, strategy,
		                           attempted_json, last_tried, trail_json,
		                           created_at, updated_at, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_id) DO UPDATE SET
			task_id = excluded.task_id,
			kind = excluded.kind,
			provider = excluded.provider,
			status = excluded.status,
			request_json = excluded.request_json,
			original_prompt = excluded.original_prompt,
			strategy = excluded.strategy,
			attempted_json = excluded.attempted_json,
			last_tried = excluded.last_tried,
			trail_json = excluded.trail_json,
			updated_at = excluded.updated_at,
			deadline = excluded.deadline
	`,
		t.SubmissionID, t.ID, string(t.Kind), t.Provider, string(t.Status),
		string(requestJSON), t.OriginalPrompt, string(t.Strategy),
		string(attemptedJSON), t.LastTried, string(trailJSON),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(), t.Deadline.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}

	L_trace("sqlite: task stored", "submission", t.SubmissionID, "task", t.ID, "status", t.Status)
	return nil
}

const taskColumns = `submission_id, task_id, kind, provider, status,
	request_json, original_prompt, strategy,
	attempted_json, last_tried, trail_json,
	created_at, updated_at, deadline`

func (s *SQLiteStore) Get(ctx context.Context, submissionID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM pending_tasks WHERE submission_id = ?", submissionID)
	return scanTask(row)
}

func (s *SQLiteStore) GetByTaskID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM pending_tasks WHERE task_id = ? ORDER BY updated_at DESC LIMIT 1", id)
	return scanTask(row)
}

func (s *SQLiteStore) Remove(ctx context.Context, submissionID string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM pending_tasks WHERE submission_id = ?", submissionID)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_tasks WHERE submission_id = ?", submissionID); err != nil {
		return nil, fmt.Errorf("delete failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	L_trace("sqlite: task removed", "submission", submissionID, "task", t.ID)
	return t, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM pending_tasks ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var kind, status, strategy string
	var requestJSON, attemptedJSON, trailJSON string
	var createdAt, updatedAt, deadline int64

	err := row.Scan(
		&t.SubmissionID, &t.ID, &kind, &t.Provider, &status,
		&requestJSON, &t.OriginalPrompt, &strategy,
		&attemptedJSON, &t.LastTried, &trailJSON,
		&createdAt, &updatedAt, &deadline,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	t.Kind = types.MediaKind(kind)
	t.Status = Status(status)
	t.Strategy = types.Strategy(strategy)
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	t.Deadline = time.Unix(deadline, 0)

	if err := json.Unmarshal([]byte(requestJSON), &t.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := json.Unmarshal([]byte(attemptedJSON), &t.Attempted); err != nil {
		L_warn("sqlite: failed to decode attempted set", "task", t.ID, "error", err)
		t.Attempted = make(map[string]bool)
	}
	if err := json.Unmarshal([]byte(trailJSON), &t.Trail); err != nil {
		L_warn("sqlite: failed to decode trail", "task", t.ID, "error", err)
	}

	return &t, nil
}
