package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cronflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL,
  schedule TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}',
  status TEXT NOT NULL CHECK(status IN ('active','paused','completed','failed')) DEFAULT 'active',
  retry TEXT NOT NULL DEFAULT '{}',
  created_by TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  last_run DATETIME,
  next_run DATETIME,
  run_count INTEGER NOT NULL DEFAULT 0,
  failure_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id, next_run);
CREATE TABLE IF NOT EXISTS executions (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at DATETIME NOT NULL,
  completed_at DATETIME,
  result TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  retry_count INTEGER NOT NULL DEFAULT 0,
  duration_ns INTEGER NOT NULL DEFAULT 0,
  log TEXT NOT NULL DEFAULT '[]',
  FOREIGN KEY(task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id, started_at);
`
	_, err := db.Exec(schema)
	return err
}

// SQLite is the durable TaskStore + ExecutionStore adapter. Schedule, retry
// policy, payload and execution logs are stored as JSON columns.
type SQLite struct{ db *sql.DB }

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) Put(ctx context.Context, t domain.Task) error {
	sched, err := json.Marshal(t.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	retry, err := json.Marshal(t.Retry)
	if err != nil {
		return fmt.Errorf("marshal retry policy: %w", err)
	}
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (id,workspace_id,name,description,type,schedule,payload,status,retry,created_by,created_at,updated_at,last_run,next_run,run_count,failure_count)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  workspace_id=excluded.workspace_id, name=excluded.name, description=excluded.description,
  type=excluded.type, schedule=excluded.schedule, payload=excluded.payload,
  status=excluded.status, retry=excluded.retry, updated_at=excluded.updated_at,
  last_run=excluded.last_run, next_run=excluded.next_run,
  run_count=excluded.run_count, failure_count=excluded.failure_count
`, t.ID, t.WorkspaceID, t.Name, t.Description, string(t.Type), string(sched), string(payload),
		string(t.Status), string(retry), t.CreatedBy, t.CreatedAt, t.UpdatedAt,
		nullTime(t.LastRun), nullTime(t.NextRun), t.RunCount, t.FailureCount)
	return err
}

const taskColumns = `id,workspace_id,name,description,type,schedule,payload,status,retry,created_by,created_at,updated_at,last_run,next_run,run_count,failure_count`

func (s *SQLite) Get(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (s *SQLite) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) List(ctx context.Context, workspaceID string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if workspaceID != "" {
		query += ` WHERE workspace_id=?`
		args = append(args, workspaceID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                     domain.Task
		typ, status           string
		sched, retry, payload string
		lastRun, nextRun      sql.NullTime
	)
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.Description, &typ, &sched, &payload,
		&status, &retry, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &lastRun, &nextRun,
		&t.RunCount, &t.FailureCount)
	if err != nil {
		return domain.Task{}, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.TaskStatus(status)
	if err := json.Unmarshal([]byte(sched), &t.Schedule); err != nil {
		return domain.Task{}, fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(retry), &t.Retry); err != nil {
		return domain.Task{}, fmt.Errorf("unmarshal retry policy: %w", err)
	}
	if payload != "" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
			return domain.Task{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if lastRun.Valid {
		v := lastRun.Time
		t.LastRun = &v
	}
	if nextRun.Valid {
		v := nextRun.Time
		t.NextRun = &v
	}
	return t, nil
}

func (s *SQLite) Append(ctx context.Context, e domain.Execution) error {
	logJSON, err := json.Marshal(e.Log)
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO executions (id,task_id,status,started_at,completed_at,result,error,retry_count,duration_ns,log)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, e.ID, e.TaskID, string(e.Status), e.StartedAt, nullTime(e.CompletedAt),
		e.Result, e.Error, e.RetryCount, int64(e.Duration), string(logJSON))
	return err
}

func (s *SQLite) Update(ctx context.Context, e domain.Execution) error {
	logJSON, err := json.Marshal(e.Log)
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE executions SET status=?, completed_at=?, result=?, error=?, retry_count=?, duration_ns=?, log=?
WHERE id=?
`, string(e.Status), nullTime(e.CompletedAt), e.Result, e.Error, e.RetryCount,
		int64(e.Duration), string(logJSON), e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.Execution, error) {
	query := `
SELECT id,task_id,status,started_at,completed_at,result,error,retry_count,duration_ns,log
FROM executions WHERE task_id=? ORDER BY started_at DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		var (
			e           domain.Execution
			status      string
			completedAt sql.NullTime
			durationNS  int64
			logJSON     string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &status, &e.StartedAt, &completedAt,
			&e.Result, &e.Error, &e.RetryCount, &durationNS, &logJSON); err != nil {
			return nil, err
		}
		e.Status = domain.ExecutionStatus(status)
		e.Duration = time.Duration(durationNS)
		if completedAt.Valid {
			v := completedAt.Time
			e.CompletedAt = &v
		}
		if err := json.Unmarshal([]byte(logJSON), &e.Log); err != nil {
			return nil, fmt.Errorf("unmarshal execution log: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Chronological order, oldest first.
	for i, j := 0, len(execs)-1; i < j; i, j = i+1, j-1 {
		execs[i], execs[j] = execs[j], execs[i]
	}
	return execs, nil
}

func (s *SQLite) PurgeTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE task_id=?`, taskID)
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
