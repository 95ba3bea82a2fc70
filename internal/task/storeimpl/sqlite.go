package storeimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/pkg/cerr"
)

// DB is the shared SQLite handle. Per-entity stores are views over it, one
// repository per entity on shared storage.
type DB struct {
	db *sql.DB
}

// Tasks returns the task store view.
func (d *DB) Tasks() *TaskStore {
	return &TaskStore{db: d.db}
}

// Users returns the user store view.
func (d *DB) Users() *UserStore {
	return &UserStore{db: d.db}
}

// Subscriptions returns the push subscription store view.
func (d *DB) Subscriptions() *SubscriptionStore {
	return &SubscriptionStore{db: d.db}
}

type TaskStore struct {
	db *sql.DB
}

var _ task.Store = (*TaskStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	api_token TEXT NOT NULL UNIQUE,
	openclaw_endpoint TEXT,
	openclaw_token TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT,
	priority TEXT NOT NULL DEFAULT 'medium',
	status TEXT NOT NULL DEFAULT 'backlog',
	tags TEXT,
	estimated_hours REAL,
	openclaw_session_id TEXT,
	result_data TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(openclaw_session_id);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	endpoint TEXT NOT NULL,
	p256dh TEXT NOT NULL,
	auth TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between the HTTP handlers and the poller.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

const taskColumns = `id, user_id, title, description, priority, status, tags,
	estimated_hours, openclaw_session_id, result_data, created_at, updated_at, completed_at`

type taskRow struct {
	description sql.NullString
	tags        sql.NullString
	estimated   sql.NullFloat64
	sessionID   sql.NullString
	resultData  sql.NullString
	createdAt   int64
	updatedAt   int64
	completedAt sql.NullInt64
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*task.Task, error) {
	var t task.Task
	var r taskRow
	err := s.Scan(&t.ID, &t.UserID, &t.Title, &r.description, &t.Priority, &t.Status,
		&r.tags, &r.estimated, &r.sessionID, &r.resultData, &r.createdAt, &r.updatedAt, &r.completedAt)
	if err != nil {
		return nil, err
	}
	t.Description = r.description.String
	if r.tags.Valid && r.tags.String != "" {
		if err := json.Unmarshal([]byte(r.tags.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for task %d: %w", t.ID, err)
		}
	}
	if r.estimated.Valid {
		t.EstimatedHours = &r.estimated.Float64
	}
	t.RemoteSessionID = r.sessionID.String
	if r.resultData.Valid && r.resultData.String != "" {
		t.ResultData = json.RawMessage(r.resultData.String)
	}
	t.CreatedAt = time.Unix(r.createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(r.updatedAt, 0).UTC()
	if r.completedAt.Valid {
		at := time.Unix(r.completedAt.Int64, 0).UTC()
		t.CompletedAt = &at
	}
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func tagsJSON(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *TaskStore) Create(ctx context.Context, t *task.Task) error {
	tags, err := tagsJSON(t.Tags)
	if err != nil {
		return cerr.WrapStoreWriteError("task", err)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO tasks (user_id, title, description, priority, status, tags,
			estimated_hours, openclaw_session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Title, nullStr(t.Description), t.Priority, t.Status, tags,
		t.EstimatedHours, nullStr(t.RemoteSessionID), now.Unix(), now.Unix())
	if err != nil {
		return cerr.WrapStoreWriteError("task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return cerr.WrapStoreWriteError("task", err)
	}
	t.ID = id
	return nil
}

func (d *TaskStore) GetByID(ctx context.Context, id int64) (*task.Task, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, cerr.WrapStoreReadError("task", err)
	}
	return t, nil
}

func (d *TaskStore) GetForUser(ctx context.Context, userID, id int64) (*task.Task, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTask(row)
	if err != nil {
		return nil, cerr.WrapStoreReadError("task", err)
	}
	return t, nil
}

func (d *TaskStore) GetBySessionID(ctx context.Context, sessionID string) (*task.Task, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE openclaw_session_id = ?`, sessionID)
	t, err := scanTask(row)
	if err != nil {
		return nil, cerr.WrapStoreReadError("task", err)
	}
	return t, nil
}

func (d *TaskStore) ListByUser(ctx context.Context, userID int64) ([]*task.Task, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, cerr.WrapStoreReadError("tasks", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerr.WrapStoreReadError("tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.WrapStoreReadError("tasks", err)
	}
	return tasks, nil
}

func (d *TaskStore) FindStaleInProgress(ctx context.Context, olderThan time.Duration) ([]*task.StaleTask, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.title, t.description, t.priority, t.status, t.tags,
			t.estimated_hours, t.openclaw_session_id, t.result_data, t.created_at,
			t.updated_at, t.completed_at, u.openclaw_endpoint, u.openclaw_token
		FROM tasks t
		JOIN users u ON t.user_id = u.id
		WHERE t.status = ?
		  AND t.openclaw_session_id IS NOT NULL
		  AND t.openclaw_session_id != ''
		  AND t.openclaw_session_id NOT LIKE ?
		  AND t.updated_at < ?`,
		task.StatusInProgress, task.SessionKeyHookPrefix+"%", cutoff)
	if err != nil {
		return nil, cerr.WrapStoreReadError("stale tasks", err)
	}
	defer rows.Close()

	var stale []*task.StaleTask
	for rows.Next() {
		var st task.StaleTask
		var r taskRow
		var endpoint, token sql.NullString
		err := rows.Scan(&st.ID, &st.UserID, &st.Title, &r.description, &st.Priority, &st.Status,
			&r.tags, &r.estimated, &r.sessionID, &r.resultData, &r.createdAt, &r.updatedAt,
			&r.completedAt, &endpoint, &token)
		if err != nil {
			return nil, cerr.WrapStoreReadError("stale tasks", err)
		}
		st.Description = r.description.String
		st.RemoteSessionID = r.sessionID.String
		if r.resultData.Valid && r.resultData.String != "" {
			st.ResultData = json.RawMessage(r.resultData.String)
		}
		st.CreatedAt = time.Unix(r.createdAt, 0).UTC()
		st.UpdatedAt = time.Unix(r.updatedAt, 0).UTC()
		if r.completedAt.Valid {
			at := time.Unix(r.completedAt.Int64, 0).UTC()
			st.CompletedAt = &at
		}
		st.RemoteEndpoint = endpoint.String
		st.RemoteToken = token.String
		stale = append(stale, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.WrapStoreReadError("stale tasks", err)
	}
	return stale, nil
}

func (d *TaskStore) Update(ctx context.Context, t *task.Task) error {
	tags, err := tagsJSON(t.Tags)
	if err != nil {
		return cerr.WrapStoreWriteError("task", err)
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, priority = ?, tags = ?,
			estimated_hours = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		t.Title, nullStr(t.Description), t.Priority, tags, t.EstimatedHours,
		time.Now().Unix(), t.ID, t.UserID)
	if err != nil {
		return cerr.WrapStoreWriteError("task", err)
	}
	return requireRow(res, "task")
}

// UpdateStatus applies a partial status update. completed_at is COALESCEd the
// stored-value-first way round, so the first completion wins and replays are
// identical no-ops.
func (d *TaskStore) UpdateStatus(ctx context.Context, id int64, upd task.StatusUpdate) error {
	var sessionID any
	if upd.RemoteSessionID != nil {
		sessionID = *upd.RemoteSessionID
	}
	var resultData any
	if upd.ResultData != nil {
		resultData = string(upd.ResultData)
	}
	var completedAt any
	if upd.CompletedAt != nil {
		completedAt = upd.CompletedAt.Unix()
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?,
			openclaw_session_id = COALESCE(?, openclaw_session_id),
			result_data = COALESCE(?, result_data),
			completed_at = COALESCE(completed_at, ?),
			updated_at = ?
		WHERE id = ?`,
		upd.Status, sessionID, resultData, completedAt, time.Now().Unix(), id)
	if err != nil {
		return cerr.WrapStoreWriteError("task", err)
	}
	return requireRow(res, "task")
}

func (d *TaskStore) Touch(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE tasks SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return cerr.WrapStoreWriteError("task", err)
	}
	return requireRow(res, "task")
}

func (d *TaskStore) Delete(ctx context.Context, userID, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return cerr.WrapStoreDeleteError("task", err)
	}
	return requireRow(res, "task")
}

func (d *TaskStore) SessionStats(ctx context.Context, userID int64) (map[task.Status]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks
		WHERE user_id = ? AND openclaw_session_id IS NOT NULL AND openclaw_session_id != ''
		GROUP BY status`, userID)
	if err != nil {
		return nil, cerr.WrapStoreReadError("task stats", err)
	}
	defer rows.Close()

	stats := make(map[task.Status]int)
	for rows.Next() {
		var status task.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, cerr.WrapStoreReadError("task stats", err)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.WrapStoreReadError("task stats", err)
	}
	return stats, nil
}

func requireRow(res sql.Result, target string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return cerr.WrapStoreWriteError(target, err)
	}
	if n == 0 {
		return cerr.NewError(cerr.NotFound, target+" not found", nil)
	}
	return nil
}
