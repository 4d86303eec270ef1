// Package stats aggregates per-workspace task and execution metrics.
package stats

import (
	"context"
	"sort"
	"time"

	"cronflow/internal/domain"
	"cronflow/internal/store"
)

const upcomingPreview = 5

type Aggregator struct {
	tasks store.TaskStore
	execs store.ExecutionStore
}

func New(tasks store.TaskStore, execs store.ExecutionStore) *Aggregator {
	return &Aggregator{tasks: tasks, execs: execs}
}

// Workspace summarizes one workspace: status partition, execution totals,
// average duration over settled executions, and the five soonest upcoming
// runs among active tasks.
func (a *Aggregator) Workspace(ctx context.Context, workspaceID string) (domain.Stats, error) {
	tasks, err := a.tasks.List(ctx, workspaceID)
	if err != nil {
		return domain.Stats{}, err
	}

	s := domain.Stats{WorkspaceID: workspaceID, TotalTasks: len(tasks)}
	var totalDuration time.Duration
	var settled int

	for _, t := range tasks {
		switch t.Status {
		case domain.StatusActive:
			s.ActiveTasks++
		case domain.StatusPaused:
			s.PausedTasks++
		}

		history, err := a.execs.ListByTask(ctx, t.ID, 0)
		if err != nil {
			return domain.Stats{}, err
		}
		s.TotalExecutions += len(history)
		for _, e := range history {
			switch e.Status {
			case domain.ExecCompleted:
				s.SuccessfulRuns++
				totalDuration += e.Duration
				settled++
			case domain.ExecFailed:
				s.FailedRuns++
				totalDuration += e.Duration
				settled++
			}
		}
	}

	if settled > 0 {
		s.AverageDuration = totalDuration / time.Duration(settled)
	}
	s.UpcomingRuns = upcoming(tasks, upcomingPreview)
	return s, nil
}

// Upcoming lists active tasks due within the window, soonest first. A zero
// window means no horizon.
func (a *Aggregator) Upcoming(ctx context.Context, workspaceID string, window time.Duration) ([]domain.UpcomingRun, error) {
	tasks, err := a.tasks.List(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	runs := upcoming(tasks, 0)
	if window <= 0 {
		return runs, nil
	}
	horizon := time.Now().Add(window)
	cut := sort.Search(len(runs), func(i int) bool { return runs[i].At.After(horizon) })
	return runs[:cut], nil
}

func upcoming(tasks []domain.Task, limit int) []domain.UpcomingRun {
	runs := make([]domain.UpcomingRun, 0, len(tasks))
	for _, t := range tasks {
		if t.Status != domain.StatusActive || t.NextRun == nil {
			continue
		}
		runs = append(runs, domain.UpcomingRun{TaskID: t.ID, Name: t.Name, At: *t.NextRun})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].At.Before(runs[j].At) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}
