// Package registry owns the task lifecycle: create, update, delete, pause,
// resume, and filtered listing. Schedules are validated here, never lazily at
// run time, and nextRun is kept current on every mutation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cronflow/internal/domain"
	"cronflow/internal/schedule"
	"cronflow/internal/store"
)

var (
	ErrNameRequired = errors.New("task name is required")
	ErrPastOnce     = errors.New("once schedule is in the past")
	ErrNotActive    = errors.New("task is not active")
	ErrNotPaused    = errors.New("task is not paused")
)

// Scheduler is the engine surface the registry drives. Arm and Disarm keep
// timers in step with task mutations.
type Scheduler interface {
	Arm(ctx context.Context, t domain.Task) bool
	Disarm(taskID string)
}

type Options struct {
	// RejectPastOnce makes create/update fail for once schedules whose
	// instant has already elapsed, instead of the default catch-up run.
	RejectPastOnce bool
	// DefaultRetry applies when a task is created without a retry policy.
	DefaultRetry domain.RetryPolicy
}

type Registry struct {
	tasks store.TaskStore
	execs store.ExecutionStore
	sched Scheduler
	opts  Options
}

func New(tasks store.TaskStore, execs store.ExecutionStore, sched Scheduler, opts Options) *Registry {
	return &Registry{tasks: tasks, execs: execs, sched: sched, opts: opts}
}

// CreateInput carries the caller-settable task fields.
type CreateInput struct {
	WorkspaceID string
	Name        string
	Description string
	Type        domain.TaskType
	Schedule    domain.Schedule
	Payload     map[string]any
	Retry       *domain.RetryPolicy
	CreatedBy   string
}

func (r *Registry) Create(ctx context.Context, in CreateInput) (domain.Task, error) {
	if in.Name == "" {
		return domain.Task{}, ErrNameRequired
	}
	if err := r.validateSchedule(in.Schedule); err != nil {
		return domain.Task{}, err
	}

	now := time.Now()
	t := domain.Task{
		ID:          "tsk_" + uuid.NewString(),
		WorkspaceID: in.WorkspaceID,
		Name:        in.Name,
		Description: in.Description,
		Type:        in.Type,
		Schedule:    in.Schedule,
		Payload:     in.Payload,
		Status:      domain.StatusActive,
		Retry:       r.opts.DefaultRetry,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Type == "" {
		t.Type = domain.TypeCustom
	}
	if in.Retry != nil {
		t.Retry = *in.Retry
	}
	if next, ok := schedule.NextRun(t.Schedule, now); ok {
		t.NextRun = &next
	}

	if err := r.tasks.Put(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("store task: %w", err)
	}
	r.sched.Arm(ctx, t)

	log.Info().
		Str("task", t.ID).
		Str("workspace", t.WorkspaceID).
		Str("kind", string(t.Schedule.Kind)).
		Msg("task created")
	return t, nil
}

// UpdateInput applies a partial update; nil fields keep their current value.
type UpdateInput struct {
	Name        *string
	Description *string
	Type        *domain.TaskType
	Schedule    *domain.Schedule
	Payload     *map[string]any
	Retry       *domain.RetryPolicy
}

func (r *Registry) Update(ctx context.Context, id string, in UpdateInput) (domain.Task, error) {
	t, err := r.tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}

	if in.Name != nil {
		if *in.Name == "" {
			return domain.Task{}, ErrNameRequired
		}
		t.Name = *in.Name
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Type != nil {
		t.Type = *in.Type
	}
	if in.Payload != nil {
		t.Payload = *in.Payload
	}
	if in.Retry != nil {
		t.Retry = *in.Retry
	}

	rearm := false
	if in.Schedule != nil {
		if err := r.validateSchedule(*in.Schedule); err != nil {
			return domain.Task{}, err
		}
		t.Schedule = *in.Schedule
		if next, ok := schedule.NextRun(t.Schedule, time.Now()); ok {
			t.NextRun = &next
		} else {
			t.NextRun = nil
		}
		rearm = true
	}

	t.UpdatedAt = time.Now()
	if err := r.tasks.Put(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("store task: %w", err)
	}
	if rearm && t.Status == domain.StatusActive {
		r.sched.Disarm(t.ID)
		r.sched.Arm(ctx, t)
	}
	return t, nil
}

// Delete removes the task, its timer, and its execution history. Deleting an
// unknown ID returns false with no side effects.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := r.tasks.Delete(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	r.sched.Disarm(id)
	if err := r.execs.PurgeTask(ctx, id); err != nil {
		return true, fmt.Errorf("purge history: %w", err)
	}
	log.Info().Str("task", id).Msg("task deleted")
	return true, nil
}

// Pause stops future firings but preserves counters and history.
func (r *Registry) Pause(ctx context.Context, id string) (domain.Task, error) {
	t, err := r.tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusActive {
		return domain.Task{}, ErrNotActive
	}

	t.Status = domain.StatusPaused
	t.UpdatedAt = time.Now()
	if err := r.tasks.Put(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("store task: %w", err)
	}
	r.sched.Disarm(t.ID)
	return t, nil
}

// Resume reactivates a paused task with a freshly computed nextRun.
func (r *Registry) Resume(ctx context.Context, id string) (domain.Task, error) {
	t, err := r.tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusPaused {
		return domain.Task{}, ErrNotPaused
	}

	t.Status = domain.StatusActive
	if next, ok := schedule.NextRun(t.Schedule, time.Now()); ok {
		t.NextRun = &next
	} else {
		t.NextRun = nil
	}
	t.UpdatedAt = time.Now()
	if err := r.tasks.Put(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("store task: %w", err)
	}
	r.sched.Arm(ctx, t)
	return t, nil
}

func (r *Registry) Get(ctx context.Context, id string) (domain.Task, error) {
	return r.tasks.Get(ctx, id)
}

// Executions returns the chronological tail of a task's history; limit <= 0
// returns all retained records.
func (r *Registry) Executions(ctx context.Context, taskID string, limit int) ([]domain.Execution, error) {
	return r.execs.ListByTask(ctx, taskID, limit)
}

// ListFilter narrows List results; zero values match everything.
type ListFilter struct {
	Type   domain.TaskType
	Status domain.TaskStatus
}

// List returns the workspace's tasks sorted ascending by nextRun; tasks with
// no nextRun sort last, tied by name for stable output.
func (r *Registry) List(ctx context.Context, workspaceID string, f ListFilter) ([]domain.Task, error) {
	all, err := r.tasks.List(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, t := range all {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].NextRun, out[j].NextRun
		switch {
		case a == nil && b == nil:
			return out[i].Name < out[j].Name
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (r *Registry) validateSchedule(s domain.Schedule) error {
	if err := schedule.Validate(s); err != nil {
		return err
	}
	if r.opts.RejectPastOnce && s.Kind == domain.ScheduleOnce && s.At.Before(time.Now()) {
		return ErrPastOnce
	}
	return nil
}
