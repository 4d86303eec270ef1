package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronflow/internal/domain"
)

func TestMemory_TaskCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	task := domain.Task{ID: "tsk_1", WorkspaceID: "ws1", Name: "nightly", Status: domain.StatusActive}
	require.NoError(t, m.Put(ctx, task))

	got, err := m.Get(ctx, "tsk_1")
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)

	_, err = m.Get(ctx, "tsk_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	task.Name = "nightly-v2"
	require.NoError(t, m.Put(ctx, task))
	got, err = m.Get(ctx, "tsk_1")
	require.NoError(t, err)
	assert.Equal(t, "nightly-v2", got.Name)

	ok, err := m.Delete(ctx, "tsk_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Delete(ctx, "tsk_1")
	require.NoError(t, err)
	assert.False(t, ok, "second delete is a no-op")
}

func TestMemory_ListFiltersByWorkspace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, domain.Task{ID: "a", WorkspaceID: "ws1"}))
	require.NoError(t, m.Put(ctx, domain.Task{ID: "b", WorkspaceID: "ws1"}))
	require.NoError(t, m.Put(ctx, domain.Task{ID: "c", WorkspaceID: "ws2"}))

	tasks, err := m.List(ctx, "ws1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	all, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemory_ExecutionHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Append(ctx, domain.Execution{
			ID:        "exe_" + string(rune('a'+i)),
			TaskID:    "tsk_1",
			Status:    domain.ExecCompleted,
			StartedAt: start.Add(time.Duration(i) * time.Minute),
		}))
	}

	hist, err := m.ListByTask(ctx, "tsk_1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "exe_a", hist[0].ID, "history is chronological")

	tail, err := m.ListByTask(ctx, "tsk_1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "exe_b", tail[0].ID)
	assert.Equal(t, "exe_c", tail[1].ID)

	require.NoError(t, m.PurgeTask(ctx, "tsk_1"))
	hist, err = m.ListByTask(ctx, "tsk_1", 0)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestMemory_ExecutionUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	exec := domain.Execution{ID: "exe_1", TaskID: "tsk_1", Status: domain.ExecRunning}
	require.NoError(t, m.Append(ctx, exec))

	exec.Status = domain.ExecFailed
	exec.RetryCount = 2
	exec.Log = append(exec.Log, domain.LogEntry{Level: domain.LogError, Message: "boom"})
	require.NoError(t, m.Update(ctx, exec))

	hist, err := m.ListByTask(ctx, "tsk_1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ExecFailed, hist[0].Status)
	assert.Equal(t, 2, hist[0].RetryCount)
	require.Len(t, hist[0].Log, 1)

	assert.ErrorIs(t, m.Update(ctx, domain.Execution{ID: "nope", TaskID: "tsk_1"}), ErrNotFound)
}

func TestMemory_HistoryCap(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryWithHistoryCap(2)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, domain.Execution{
			ID:     "exe_" + string(rune('a'+i)),
			TaskID: "tsk_1",
		}))
	}

	hist, err := m.ListByTask(ctx, "tsk_1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "exe_d", hist[0].ID)
	assert.Equal(t, "exe_e", hist[1].ID)
}
