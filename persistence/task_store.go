package persistence

import (
	"context"
	"sort"

	"github.com/BaSui01/longtask/task"
)

// TaskStore persists task records. It satisfies task.Store and reports
// counts for the task gauges.
type TaskStore interface {
	Store
	task.Store

	// Stats returns counts per status and definition.
	Stats(ctx context.Context) (*TaskStoreStats, error)
}

// TaskStoreStats contains statistics about the task store
type TaskStoreStats struct {
	TotalTasks      int64                 `json:"total_tasks"`
	StatusCounts    map[task.Status]int64 `json:"status_counts"`
	DefinitionCount map[string]int64      `json:"definition_counts"`
}

func newStats() *TaskStoreStats {
	return &TaskStoreStats{
		StatusCounts:    make(map[task.Status]int64),
		DefinitionCount: make(map[string]int64),
	}
}

func (s *TaskStoreStats) add(t *task.Task) {
	s.TotalTasks++
	s.StatusCounts[t.Status]++
	s.DefinitionCount[t.DefinitionID]++
}

// sortTasks orders by creation time, oldest first, then by id.
func sortTasks(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedOn.Equal(tasks[j].CreatedOn) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedOn.Before(tasks[j].CreatedOn)
	})
}

// paginate applies offset and limit to an ordered result.
func paginate(tasks []*task.Task, filter task.Filter) []*task.Task {
	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return []*task.Task{}
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks
}
