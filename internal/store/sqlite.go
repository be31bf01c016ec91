// ABOUTME: SQLite implementation of the TaskStore interface using modernc.org/sqlite
// ABOUTME: Journals task snapshots with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/anf-daemon/internal/task"
)

// SQLiteStore implements TaskStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite journal at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			seq          INTEGER NOT NULL,
			agent_id     TEXT NOT NULL,
			task_type    TEXT NOT NULL DEFAULT '',
			prompt       TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			started_at   TEXT,
			completed_at TEXT,
			result       TEXT,
			error        TEXT,

			CHECK (status IN ('queued', 'running', 'completed', 'failed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_seq ON tasks(seq);
		CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id, seq);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('tasks') WHERE name = 'context_json'`,
			apply:  `ALTER TABLE tasks ADD COLUMN context_json TEXT`,
			column: "context_json",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to tasks: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "tasks")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveTask upserts the snapshot of t. Snapshots that would move an entry
// backwards in the lifecycle are ignored, so writers racing on one task
// cannot regress it.
func (s *SQLiteStore) SaveTask(ctx context.Context, t task.Task) error {
	contextJSON, err := encodeContext(t.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, seq, agent_id, task_type, prompt, status, created_at,
			started_at, completed_at, result, error, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			started_at   = excluded.started_at,
			completed_at = excluded.completed_at,
			result       = excluded.result,
			error        = excluded.error
		WHERE ` + statusRank("tasks.status") + ` < ` + statusRank("excluded.status") + `
	`

	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		int64(t.Seq),
		t.AgentID,
		t.Type,
		t.Prompt,
		string(t.Status),
		formatTime(t.CreatedAt),
		formatTimePtr(t.StartedAt),
		formatTimePtr(t.CompletedAt),
		nullString(t.Result),
		nullString(t.Error),
		contextJSON,
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}

	s.logger.Debug("journaled task", "task_id", t.ID, "status", t.Status)
	return nil
}

const taskColumns = `id, seq, agent_id, task_type, prompt, status, created_at,
	started_at, completed_at, result, error, context_json`

// GetTask retrieves a task by ID.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("querying task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks matching q ordered by creation sequence.
func (s *SQLiteStore) ListTasks(ctx context.Context, q TaskQuery) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if q.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, q.AgentID)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}

	// Most recent N, returned oldest first.
	query += ` ORDER BY seq DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecoverTasks cancels every task left queued or running by a previous
// process and returns how many were changed.
func (s *SQLiteStore) RecoverTasks(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'cancelled', completed_at = ?, error = ?
		WHERE status IN ('queued', 'running')
	`, formatTime(at), RecoveredError)
	if err != nil {
		return 0, fmt.Errorf("recovering tasks: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting recovered tasks: %w", err)
	}
	if n > 0 {
		s.logger.Warn("cancelled tasks interrupted by restart", "count", n)
	}
	return n, nil
}

// PruneTasks deletes terminal tasks that completed before cutoff.
func (s *SQLiteStore) PruneTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL
		  AND completed_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning tasks: %w", err)
	}
	return res.RowsAffected()
}

// statusRank orders statuses along the lifecycle for the upsert guard.
func statusRank(col string) string {
	return `(CASE ` + col + ` WHEN 'queued' THEN 0 WHEN 'running' THEN 1 ELSE 2 END)`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t                      task.Task
		seq                    int64
		status, createdAt      string
		startedAt, completedAt sql.NullString
		result, errText, ctxJS sql.NullString
	)

	err := row.Scan(&t.ID, &seq, &t.AgentID, &t.Type, &t.Prompt, &status, &createdAt,
		&startedAt, &completedAt, &result, &errText, &ctxJS)
	if err != nil {
		return task.Task{}, err
	}

	t.Seq = uint64(seq)
	t.Status = task.Status(status)
	t.Result = result.String
	t.Error = errText.String

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return task.Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return task.Task{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return task.Task{}, fmt.Errorf("parsing completed_at: %w", err)
	}

	t.Context = map[string]string{}
	if ctxJS.Valid && ctxJS.String != "" {
		if err := json.Unmarshal([]byte(ctxJS.String), &t.Context); err != nil {
			return task.Task{}, fmt.Errorf("parsing context: %w", err)
		}
	}
	return t, nil
}

func encodeContext(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding context: %w", err)
	}
	return string(data), nil
}

// nullString converts empty strings to nil for nullable columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var _ TaskStore = (*SQLiteStore)(nil)
