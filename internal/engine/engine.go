// Package engine arms one timer per active task, runs due tasks through the
// executor registry with bounded retries, and records execution history.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cronflow/internal/domain"
	"cronflow/internal/eventbus"
	"cronflow/internal/executor"
	"cronflow/internal/schedule"
	"cronflow/internal/store"
)

// A timer is never armed further out than this; a clamped timer re-arms on
// fire instead of running the task early.
const maxArmDelay = 30 * 24 * time.Hour

// rearmEpsilon separates a genuinely due fire from a clamped early wakeup.
const rearmEpsilon = time.Second

type Config struct {
	// DefaultTimeout bounds a single handler attempt. Zero disables the
	// bound.
	DefaultTimeout time.Duration
}

// Engine owns execution: timers, the run pipeline, retries, and history.
// Task records live in the TaskStore; the engine mutates their run metadata
// (status, counters, lastRun, nextRun) as firings settle.
type Engine struct {
	tasks store.TaskStore
	execs store.ExecutionStore
	exec  executor.Executor
	bus   eventbus.Bus
	cfg   Config

	mu      sync.Mutex
	timers  map[string]*time.Timer
	version map[string]uint64
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(tasks store.TaskStore, execs store.ExecutionStore, exec executor.Executor, bus eventbus.Bus, cfg Config) *Engine {
	return &Engine{
		tasks:   tasks,
		execs:   execs,
		exec:    exec,
		bus:     bus,
		cfg:     cfg,
		timers:  map[string]*time.Timer{},
		version: map[string]uint64{},
		done:    make(chan struct{}),
	}
}

// Start re-arms every active task found in the store. Called once at boot.
func (e *Engine) Start(ctx context.Context) error {
	all, err := e.tasks.List(ctx, "")
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	armed := 0
	for _, t := range all {
		if t.Status != domain.StatusActive {
			continue
		}
		if e.Arm(ctx, t) {
			armed++
		}
	}
	log.Info().Int("tasks", len(all)).Int("armed", armed).Msg("engine started")
	return nil
}

// Stop cancels all timers and waits for in-flight firings to settle.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.done)
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
		e.version[id]++
	}
	e.mu.Unlock()

	e.wg.Wait()
	log.Info().Msg("engine stopped")
}

// Arm schedules the task's next firing. Event-driven tasks have no timer and
// report false; so do tasks whose schedule yields no future instant. A
// nextRun already in the past is recomputed first, except for once schedules,
// which fire immediately by design.
func (e *Engine) Arm(ctx context.Context, t domain.Task) bool {
	if t.Schedule.Kind == domain.ScheduleEvent {
		return false
	}

	target, ok := e.armTarget(ctx, t)
	if !ok {
		return false
	}

	delay := time.Until(target)
	if delay < 0 {
		delay = 0
	}
	if delay > maxArmDelay {
		delay = maxArmDelay
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	if old, ok := e.timers[t.ID]; ok {
		old.Stop()
	}
	e.version[t.ID]++
	v := e.version[t.ID]
	e.timers[t.ID] = time.AfterFunc(delay, func() { e.fire(t.ID, v, target) })
	return true
}

// armTarget resolves the instant to arm for, recomputing a stale nextRun.
func (e *Engine) armTarget(ctx context.Context, t domain.Task) (time.Time, bool) {
	now := time.Now()

	if t.Schedule.Kind == domain.ScheduleOnce {
		// Past instants fire immediately (catch-up run).
		return t.Schedule.At, true
	}

	if t.NextRun != nil && t.NextRun.After(now) {
		return *t.NextRun, true
	}

	next, ok := schedule.NextRun(t.Schedule, now)
	if !ok {
		log.Warn().Str("task", t.ID).Msg("schedule yields no future run, not arming")
		return time.Time{}, false
	}
	t.NextRun = &next
	if err := e.tasks.Put(ctx, t); err != nil {
		log.Error().Err(err).Str("task", t.ID).Msg("persist recomputed next run")
	}
	return next, true
}

// Disarm cancels the task's timer. Safe to call for unknown IDs.
func (e *Engine) Disarm(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.version[taskID]++
	if timer, ok := e.timers[taskID]; ok {
		timer.Stop()
		delete(e.timers, taskID)
	}
}

// current reports whether v is still the live timer version for the task.
func (e *Engine) current(taskID string, v uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version[taskID] == v && !e.stopped
}

// fire is the timer callback. Stale versions no-op; a clamped early wakeup
// re-arms instead of running.
func (e *Engine) fire(taskID string, v uint64, target time.Time) {
	if !e.current(taskID, v) {
		return
	}

	ctx := context.Background()
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		log.Error().Err(err).Str("task", taskID).Msg("fire: task lookup failed")
		return
	}
	if t.Status != domain.StatusActive {
		return
	}

	if time.Until(target) > rearmEpsilon {
		e.Arm(ctx, t)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, t)
		e.settle(ctx, taskID)
	}()
}

// settle re-reads the task after a firing and either terminates a one-shot
// or recomputes and re-arms a recurring schedule.
func (e *Engine) settle(ctx context.Context, taskID string) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return
	}
	if t.Status != domain.StatusActive {
		return
	}

	if t.Schedule.Kind == domain.ScheduleOnce {
		t.Status = domain.StatusCompleted
		t.NextRun = nil
		t.UpdatedAt = time.Now()
		if err := e.tasks.Put(ctx, t); err != nil {
			log.Error().Err(err).Str("task", t.ID).Msg("persist completed one-shot")
		}
		e.Disarm(t.ID)
		return
	}

	now := time.Now()
	if next, ok := schedule.NextRun(t.Schedule, now); ok {
		t.NextRun = &next
	} else {
		t.NextRun = nil
	}
	t.UpdatedAt = now
	if err := e.tasks.Put(ctx, t); err != nil {
		log.Error().Err(err).Str("task", t.ID).Msg("persist next run")
	}
	if t.NextRun != nil {
		e.Arm(ctx, t)
	}
}

// RunNow triggers one immediate firing without disturbing the armed timer or
// the schedule. The returned execution is the pending record; the run settles
// asynchronously.
func (e *Engine) RunNow(ctx context.Context, taskID string) (domain.Execution, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return domain.Execution{}, err
	}

	exe := e.newExecution(t)
	if err := e.execs.Append(ctx, exe); err != nil {
		return domain.Execution{}, fmt.Errorf("record execution: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.attemptLoop(context.Background(), t, exe)
	}()
	return exe, nil
}

// TriggerEvent fires every active event-scheduled task listening for the
// named event. workspaceID of "" matches all workspaces. Returns the number
// of tasks fired.
func (e *Engine) TriggerEvent(ctx context.Context, workspaceID, event string) (int, error) {
	all, err := e.tasks.List(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, t := range all {
		if t.Status != domain.StatusActive || t.Schedule.Kind != domain.ScheduleEvent || t.Schedule.Event != event {
			continue
		}
		t := t
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(context.Background(), t)
		}()
		fired++
	}
	return fired, nil
}

// run performs one full scheduled firing: record, attempt loop, retries.
func (e *Engine) run(ctx context.Context, t domain.Task) {
	exe := e.newExecution(t)
	if err := e.execs.Append(ctx, exe); err != nil {
		log.Error().Err(err).Str("task", t.ID).Msg("record execution")
		return
	}
	e.attemptLoop(ctx, t, exe)
}

func (e *Engine) newExecution(t domain.Task) domain.Execution {
	now := time.Now()
	return domain.Execution{
		ID:        "exe_" + uuid.NewString(),
		TaskID:    t.ID,
		Status:    domain.ExecPending,
		StartedAt: now,
		Log: []domain.LogEntry{{
			Time:    now,
			Level:   domain.LogInfo,
			Message: fmt.Sprintf("starting %s task %q", t.Type, t.Name),
		}},
	}
}

// attemptLoop runs the handler, applying the retry policy on failure by
// mutating and re-running the same execution record. RetryCount grows
// monotonically and the log only appends.
func (e *Engine) attemptLoop(ctx context.Context, t domain.Task, exe domain.Execution) {
	exe.Status = domain.ExecRunning
	if err := e.execs.Update(ctx, exe); err != nil {
		log.Error().Err(err).Str("execution", exe.ID).Msg("mark execution running")
	}

	for {
		attemptStart := time.Now()
		result, err := e.attempt(t)
		exe.Duration = time.Since(exe.StartedAt)

		if err == nil {
			e.finish(ctx, t, exe, result)
			return
		}

		e.recordFailure(ctx, &t, &exe, err, attemptStart)

		if exe.RetryCount >= t.Retry.MaxRetries || !retryable(t.Retry, err) {
			e.exhaust(ctx, t, exe, err)
			return
		}

		delay := Backoff(t.Retry, exe.RetryCount)
		exe.RetryCount++
		exe.Log = append(exe.Log, domain.LogEntry{
			Time:    time.Now(),
			Level:   domain.LogWarn,
			Message: fmt.Sprintf("retry %d/%d in %s", exe.RetryCount, t.Retry.MaxRetries, delay),
		})
		if err := e.execs.Update(ctx, exe); err != nil {
			log.Error().Err(err).Str("execution", exe.ID).Msg("persist retry state")
		}

		select {
		case <-time.After(delay):
		case <-e.done:
			exe.Status = domain.ExecCancelled
			now := time.Now()
			exe.CompletedAt = &now
			_ = e.execs.Update(ctx, exe)
			return
		}
	}
}

// attempt invokes the executor once, bounded by the configured timeout and
// shielded against handler panics.
func (e *Engine) attempt(t domain.Task) (result string, err error) {
	ctx := context.Background()
	if e.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DefaultTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return e.exec.Execute(ctx, t)
}

func (e *Engine) finish(ctx context.Context, t domain.Task, exe domain.Execution, result string) {
	now := time.Now()
	exe.Status = domain.ExecCompleted
	exe.Result = result
	exe.CompletedAt = &now
	exe.Log = append(exe.Log, domain.LogEntry{
		Time:    now,
		Level:   domain.LogInfo,
		Message: "completed: " + truncate(result, 200),
	})
	if err := e.execs.Update(ctx, exe); err != nil {
		log.Error().Err(err).Str("execution", exe.ID).Msg("persist completed execution")
	}

	if fresh, err := e.tasks.Get(ctx, t.ID); err == nil {
		fresh.RunCount++
		fresh.LastRun = &now
		fresh.UpdatedAt = now
		if err := e.tasks.Put(ctx, fresh); err != nil {
			log.Error().Err(err).Str("task", t.ID).Msg("persist run count")
		}
	}

	log.Info().Str("task", t.ID).Str("execution", exe.ID).Dur("duration", exe.Duration).Msg("task completed")
	e.publish(eventbus.TypeTaskCompleted, t, exe, "")
}

// recordFailure applies the per-attempt bookkeeping: error log line on the
// execution, failureCount and lastRun on the task.
func (e *Engine) recordFailure(ctx context.Context, t *domain.Task, exe *domain.Execution, err error, at time.Time) {
	exe.Error = err.Error()
	exe.Log = append(exe.Log, domain.LogEntry{
		Time:    time.Now(),
		Level:   domain.LogError,
		Message: fmt.Sprintf("attempt %d failed: %v", exe.RetryCount+1, err),
	})
	if uerr := e.execs.Update(ctx, *exe); uerr != nil {
		log.Error().Err(uerr).Str("execution", exe.ID).Msg("persist attempt failure")
	}

	if fresh, gerr := e.tasks.Get(ctx, t.ID); gerr == nil {
		fresh.FailureCount++
		fresh.LastRun = &at
		fresh.UpdatedAt = time.Now()
		if perr := e.tasks.Put(ctx, fresh); perr != nil {
			log.Error().Err(perr).Str("task", t.ID).Msg("persist failure count")
		}
		*t = fresh
	}
}

func (e *Engine) exhaust(ctx context.Context, t domain.Task, exe domain.Execution, err error) {
	now := time.Now()
	exe.Status = domain.ExecFailed
	exe.CompletedAt = &now
	if uerr := e.execs.Update(ctx, exe); uerr != nil {
		log.Error().Err(uerr).Str("execution", exe.ID).Msg("persist failed execution")
	}

	log.Warn().
		Str("task", t.ID).
		Str("execution", exe.ID).
		Int("attempts", exe.RetryCount+1).
		Err(err).
		Msg("task failed, retries exhausted")
	e.publish(eventbus.TypeTaskFailed, t, exe, err.Error())
}

// publish is fire-and-forget; event delivery never affects the execution.
func (e *Engine) publish(eventType string, t domain.Task, exe domain.Execution, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: eventType,
		Time: time.Now(),
		Data: eventbus.TaskEvent{
			TaskID:      t.ID,
			ExecutionID: exe.ID,
			WorkspaceID: t.WorkspaceID,
			TaskName:    t.Name,
			Duration:    exe.Duration,
			Error:       errMsg,
		},
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
