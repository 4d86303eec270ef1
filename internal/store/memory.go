package store

import (
	"context"
	"sync"

	"cronflow/internal/domain"
)

// defaultHistoryCap bounds per-task retained executions in memory.
const defaultHistoryCap = 200

// Memory is a process-local TaskStore + ExecutionStore. All state is lost on
// restart; use the sqlite adapter when durability matters.
type Memory struct {
	mu         sync.RWMutex
	tasks      map[string]domain.Task
	executions map[string][]domain.Execution
	historyCap int
}

func NewMemory() *Memory {
	return NewMemoryWithHistoryCap(defaultHistoryCap)
}

// NewMemoryWithHistoryCap sets the per-task execution retention; cap <= 0
// means unbounded.
func NewMemoryWithHistoryCap(historyCap int) *Memory {
	return &Memory{
		tasks:      make(map[string]domain.Task),
		executions: make(map[string][]domain.Execution),
		historyCap: historyCap,
	}
}

func (m *Memory) Put(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return false, nil
	}
	delete(m.tasks, id)
	return true, nil
}

func (m *Memory) List(_ context.Context, workspaceID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Task
	for _, t := range m.tasks {
		if workspaceID == "" || t.WorkspaceID == workspaceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) Append(_ context.Context, e domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := append(m.executions[e.TaskID], cloneExecution(e))
	if m.historyCap > 0 && len(hist) > m.historyCap {
		hist = hist[len(hist)-m.historyCap:]
	}
	m.executions[e.TaskID] = hist
	return nil
}

func (m *Memory) Update(_ context.Context, e domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.executions[e.TaskID]
	for i := range hist {
		if hist[i].ID == e.ID {
			hist[i] = cloneExecution(e)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListByTask(_ context.Context, taskID string, limit int) ([]domain.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.executions[taskID]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]domain.Execution, len(hist))
	for i, e := range hist {
		out[i] = cloneExecution(e)
	}
	return out, nil
}

func (m *Memory) PurgeTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	delete(m.executions, taskID)
	m.mu.Unlock()
	return nil
}

// cloneExecution copies the log slice so callers cannot mutate stored
// history through the returned value.
func cloneExecution(e domain.Execution) domain.Execution {
	if len(e.Log) > 0 {
		logCopy := make([]domain.LogEntry, len(e.Log))
		copy(logCopy, e.Log)
		e.Log = logCopy
	}
	return e
}
