// Package store persists tasks in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/harrisonrobin/taskplan/pkg/model"
)

// ErrNotFound is returned by Get and Delete for unknown ids.
var ErrNotFound = errors.New("task not found")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	estimate_ns  INTEGER NOT NULL DEFAULT 0,
	due          DATETIME,
	priority     INTEGER NOT NULL DEFAULT 1,
	all_day      INTEGER NOT NULL DEFAULT 0,
	external_id  TEXT NOT NULL DEFAULT '',
	scheduled_at DATETIME,
	local_only   INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_external_id ON tasks(external_id);
`

const columns = `id, title, description, estimate_ns, due, priority, all_day,
	external_id, scheduled_at, local_only, created_at, updated_at`

// SQLiteStore implements model.Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load returns every task, oldest first.
func (s *SQLiteStore) Load(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Get retrieves a task by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// Save inserts or updates t. A missing id is generated and CreatedAt is set
// on first save; UpdatedAt is refreshed every time.
func (s *SQLiteStore) Save(ctx context.Context, t *model.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+columns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description,
			estimate_ns=excluded.estimate_ns, due=excluded.due,
			priority=excluded.priority, all_day=excluded.all_day,
			external_id=excluded.external_id, scheduled_at=excluded.scheduled_at,
			local_only=excluded.local_only, updated_at=excluded.updated_at`,
		t.ID, t.Title, t.Description, int64(t.Estimate), nullTime(t.Due),
		int(t.Priority), t.AllDay, t.ExternalID, nullTime(t.ScheduledAt),
		t.LocalOnly, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes a task by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*model.Task, error) {
	var (
		t                model.Task
		estimate         int64
		priority         int
		due, scheduledAt sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &estimate, &due, &priority, &t.AllDay,
		&t.ExternalID, &scheduledAt, &t.LocalOnly, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Estimate = time.Duration(estimate)
	t.Priority = model.Priority(priority)
	if due.Valid {
		t.Due = &due.Time
	}
	if scheduledAt.Valid {
		t.ScheduledAt = &scheduledAt.Time
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
