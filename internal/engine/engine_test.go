package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronflow/internal/domain"
	"cronflow/internal/eventbus"
	"cronflow/internal/store"
)

// scripted fails its first failures calls, then succeeds.
type scripted struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (s *scripted) Execute(context.Context, domain.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		if s.err != nil {
			return "", s.err
		}
		return "", errors.New("scripted failure")
	}
	return "ok", nil
}

func (s *scripted) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestEngine(t *testing.T, exec *scripted) (*Engine, *store.Memory, eventbus.Bus) {
	t.Helper()
	mem := store.NewMemory()
	bus := eventbus.New()
	eng := New(mem, mem, exec, bus, Config{DefaultTimeout: 5 * time.Second})
	t.Cleanup(eng.Stop)
	return eng, mem, bus
}

func seedTask(t *testing.T, mem *store.Memory, task domain.Task) domain.Task {
	t.Helper()
	if task.ID == "" {
		task.ID = "tsk_" + task.Name
	}
	if task.Status == "" {
		task.Status = domain.StatusActive
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	require.NoError(t, mem.Put(context.Background(), task))
	return task
}

func TestRunNowSuccess(t *testing.T) {
	exec := &scripted{}
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "report",
		Type:     domain.TypeReport,
		Schedule: domain.Schedule{Kind: domain.ScheduleEvent, Event: "manual"},
	})

	exe, err := eng.RunNow(context.Background(), task.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, exe.ID)
	assert.Equal(t, task.ID, exe.TaskID)

	require.Eventually(t, func() bool {
		history, _ := mem.ListByTask(context.Background(), task.ID, 0)
		return len(history) == 1 && history[0].Status == domain.ExecCompleted
	}, 2*time.Second, 10*time.Millisecond)

	history, err := mem.ListByTask(context.Background(), task.ID, 0)
	require.NoError(t, err)
	got := history[0]
	assert.Equal(t, "ok", got.Result)
	assert.Zero(t, got.RetryCount)
	assert.NotNil(t, got.CompletedAt)

	fresh, err := mem.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.RunCount)
	assert.Zero(t, fresh.FailureCount)
	assert.NotNil(t, fresh.LastRun)
}

func TestRunNowUnknownTask(t *testing.T) {
	eng, _, _ := newTestEngine(t, &scripted{})
	_, err := eng.RunNow(context.Background(), "tsk_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryExhaustion(t *testing.T) {
	exec := &scripted{failures: 100} // always fails
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "flaky",
		Type:     domain.TypeWebhook,
		Schedule: domain.Schedule{Kind: domain.ScheduleEvent, Event: "manual"},
		Retry: domain.RetryPolicy{
			MaxRetries:   2,
			Backoff:      domain.BackoffFixed,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     time.Second,
		},
	})

	_, err := eng.RunNow(context.Background(), task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history, _ := mem.ListByTask(context.Background(), task.ID, 0)
		return len(history) == 1 && history[0].Status == domain.ExecFailed
	}, 3*time.Second, 10*time.Millisecond)

	// 1 initial attempt + 2 retries, then no further automatic retry.
	assert.Equal(t, 3, exec.callCount())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, exec.callCount())

	history, _ := mem.ListByTask(context.Background(), task.ID, 0)
	exe := history[0]
	assert.Equal(t, 2, exe.RetryCount)
	assert.NotEmpty(t, exe.Error)

	// Log lines only ever append: start, then failure/retry pairs.
	var prev time.Time
	for _, line := range exe.Log {
		assert.False(t, line.Time.Before(prev), "log must stay in order")
		prev = line.Time
	}

	fresh, _ := mem.Get(context.Background(), task.ID)
	assert.Equal(t, 3, fresh.FailureCount, "one increment per failed attempt")
	assert.Zero(t, fresh.RunCount)
}

func TestRetrySucceedsMidway(t *testing.T) {
	exec := &scripted{failures: 1}
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "recovers",
		Schedule: domain.Schedule{Kind: domain.ScheduleEvent, Event: "manual"},
		Retry: domain.RetryPolicy{
			MaxRetries:   3,
			Backoff:      domain.BackoffFixed,
			InitialDelay: 10 * time.Millisecond,
		},
	})

	_, err := eng.RunNow(context.Background(), task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history, _ := mem.ListByTask(context.Background(), task.ID, 0)
		return len(history) == 1 && history[0].Status == domain.ExecCompleted
	}, 2*time.Second, 10*time.Millisecond)

	history, _ := mem.ListByTask(context.Background(), task.ID, 0)
	assert.Equal(t, 1, history[0].RetryCount)

	fresh, _ := mem.Get(context.Background(), task.ID)
	assert.Equal(t, 1, fresh.RunCount)
	assert.Equal(t, 1, fresh.FailureCount)
}

func TestRetryOnGateBlocksRetry(t *testing.T) {
	exec := &scripted{failures: 100} // plain errors classify as internal
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "gated",
		Schedule: domain.Schedule{Kind: domain.ScheduleEvent, Event: "manual"},
		Retry: domain.RetryPolicy{
			MaxRetries:   5,
			Backoff:      domain.BackoffFixed,
			InitialDelay: 10 * time.Millisecond,
			RetryOn:      []string{"timeout"},
		},
	})

	_, err := eng.RunNow(context.Background(), task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history, _ := mem.ListByTask(context.Background(), task.ID, 0)
		return len(history) == 1 && history[0].Status == domain.ExecFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, exec.callCount(), "non-allowlisted error kind must not retry")
}

func TestOnceTaskIsTerminal(t *testing.T) {
	exec := &scripted{}
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "one-shot",
		Schedule: domain.Schedule{Kind: domain.ScheduleOnce, At: time.Now().Add(-time.Minute)},
	})

	// A past instant fires immediately on arming.
	require.True(t, eng.Arm(context.Background(), task))

	require.Eventually(t, func() bool {
		fresh, _ := mem.Get(context.Background(), task.ID)
		return fresh.Status == domain.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	fresh, _ := mem.Get(context.Background(), task.ID)
	assert.Nil(t, fresh.NextRun)
	assert.Equal(t, 1, fresh.RunCount)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, exec.callCount(), "one-shot must never fire twice")
}

func TestIntervalTaskRearms(t *testing.T) {
	exec := &scripted{}
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "ticker",
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: 30 * time.Millisecond},
	})

	require.True(t, eng.Arm(context.Background(), task))

	require.Eventually(t, func() bool {
		return exec.callCount() >= 2
	}, 3*time.Second, 10*time.Millisecond, "interval task should re-arm after each firing")

	fresh, _ := mem.Get(context.Background(), task.ID)
	assert.Equal(t, domain.StatusActive, fresh.Status)
	assert.NotNil(t, fresh.NextRun)
}

func TestDisarmCancelsPendingFire(t *testing.T) {
	exec := &scripted{}
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "cancelled",
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: 50 * time.Millisecond},
	})

	require.True(t, eng.Arm(context.Background(), task))
	eng.Disarm(task.ID)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, exec.callCount())
}

func TestPausedTaskDoesNotRun(t *testing.T) {
	exec := &scripted{}
	eng, mem, _ := newTestEngine(t, exec)
	task := seedTask(t, mem, domain.Task{
		Name:     "pausing",
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: 40 * time.Millisecond},
	})
	require.True(t, eng.Arm(context.Background(), task))

	// Pause after arming; the live fire callback must observe the status.
	task.Status = domain.StatusPaused
	require.NoError(t, mem.Put(context.Background(), task))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, exec.callCount())
}

func TestEventScheduleNeverArms(t *testing.T) {
	eng, mem, _ := newTestEngine(t, &scripted{})
	task := seedTask(t, mem, domain.Task{
		Name:     "on-deploy",
		Schedule: domain.Schedule{Kind: domain.ScheduleEvent, Event: "deploy"},
	})
	assert.False(t, eng.Arm(context.Background(), task))
}

func TestTriggerEvent(t *testing.T) {
	exec := &scripted{}
	eng, mem, _ := newTestEngine(t, exec)
	seedTask(t, mem, domain.Task{
		Name:        "on-deploy",
		WorkspaceID: "ws_1",
		Schedule:    domain.Schedule{Kind: domain.ScheduleEvent, Event: "deploy"},
	})
	seedTask(t, mem, domain.Task{
		Name:        "other-event",
		WorkspaceID: "ws_1",
		Schedule:    domain.Schedule{Kind: domain.ScheduleEvent, Event: "rollback"},
	})

	fired, err := eng.TriggerEvent(context.Background(), "ws_1", "deploy")
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	require.Eventually(t, func() bool {
		return exec.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCompletionEventPublished(t *testing.T) {
	exec := &scripted{}
	eng, mem, bus := newTestEngine(t, exec)
	events, unsub := bus.Subscribe(4)
	defer unsub()

	task := seedTask(t, mem, domain.Task{
		Name:        "announcer",
		WorkspaceID: "ws_9",
		Schedule:    domain.Schedule{Kind: domain.ScheduleEvent, Event: "manual"},
	})

	exe, err := eng.RunNow(context.Background(), task.ID)
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, eventbus.TypeTaskCompleted, e.Type)
		assert.Equal(t, task.ID, e.Data.TaskID)
		assert.Equal(t, exe.ID, e.Data.ExecutionID)
		assert.Equal(t, "ws_9", e.Data.WorkspaceID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a completion event")
	}
}

type panicky struct{}

func (panicky) Execute(context.Context, domain.Task) (string, error) {
	panic("handler bug")
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	mem := store.NewMemory()
	eng := New(mem, mem, panicky{}, eventbus.New(), Config{})
	t.Cleanup(eng.Stop)

	task := seedTask(t, mem, domain.Task{
		Name:     "explosive",
		Schedule: domain.Schedule{Kind: domain.ScheduleEvent, Event: "manual"},
	})

	_, err := eng.RunNow(context.Background(), task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history, _ := mem.ListByTask(context.Background(), task.ID, 0)
		return len(history) == 1 && history[0].Status == domain.ExecFailed
	}, 2*time.Second, 10*time.Millisecond)

	history, _ := mem.ListByTask(context.Background(), task.ID, 0)
	assert.Contains(t, history[0].Error, "handler panicked")
}

func TestStartArmsActiveTasks(t *testing.T) {
	exec := &scripted{}
	mem := store.NewMemory()
	eng := New(mem, mem, exec, eventbus.New(), Config{})
	t.Cleanup(eng.Stop)

	seedTask(t, mem, domain.Task{
		Name:     "survivor",
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: 30 * time.Millisecond},
	})
	seedTask(t, mem, domain.Task{
		Name:     "parked",
		Status:   domain.StatusPaused,
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: 30 * time.Millisecond},
	})

	require.NoError(t, eng.Start(context.Background()))

	require.Eventually(t, func() bool {
		return exec.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
