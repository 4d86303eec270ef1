// Package store defines the persistence boundary for tasks and execution
// history. The registry and engine depend only on these interfaces; the
// memory adapter is the reference (and test) implementation, the sqlite
// adapter is the durable one.
package store

import (
	"context"
	"errors"

	"cronflow/internal/domain"
)

var ErrNotFound = errors.New("not found")

// TaskStore holds scheduled tasks. Put is an upsert keyed by task ID.
type TaskStore interface {
	Put(ctx context.Context, t domain.Task) error
	Get(ctx context.Context, id string) (domain.Task, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, workspaceID string) ([]domain.Task, error)
}

// ExecutionStore holds per-task execution history, append-only and
// chronological. Update persists in-place retry progress for an execution
// already appended.
type ExecutionStore interface {
	Append(ctx context.Context, e domain.Execution) error
	Update(ctx context.Context, e domain.Execution) error
	// ListByTask returns the chronological tail of a task's history;
	// limit <= 0 means all retained records.
	ListByTask(ctx context.Context, taskID string, limit int) ([]domain.Execution, error)
	// PurgeTask discards a task's history (task deletion).
	PurgeTask(ctx context.Context, taskID string) error
}
