package checkpoint

import (
	"context"
	"encoding/json"
	"time"
)

// ProgressKind 任务进度键前缀，键形如 progress#<taskId>
const ProgressKind = "progress"

// Progress is a per-task running count kept beside the task input. A stale
// continuation re-delivered with a smaller count is raised to the recorded
// value, so reported totals never go backwards.
type Progress struct {
	store  Store
	key    string
	taskID string
	count  int
}

type progressData struct {
	Count int `json:"count"`
}

// LoadProgress returns the progress of taskID, starting from the larger of
// floor and the recorded count. A nil store yields a progress that only
// tracks in memory.
func LoadProgress(ctx context.Context, s Store, taskID string, floor int) (*Progress, error) {
	p := &Progress{store: s, key: Key(ProgressKind, taskID), taskID: taskID, count: floor}
	if s == nil {
		return p, nil
	}
	entry, err := Lookup(ctx, s, p.key)
	if err != nil {
		return p, err
	}
	if entry != nil && len(entry.Data) > 0 {
		var d progressData
		if err := json.Unmarshal(entry.Data, &d); err == nil {
			p.count = max(p.count, d.Count)
		}
	}
	return p, nil
}

// Count returns the current total.
func (p *Progress) Count() int {
	return p.count
}

// Add raises the total by n and records it.
func (p *Progress) Add(ctx context.Context, n int) (int, error) {
	p.count += n
	if p.store == nil || n <= 0 {
		return p.count, nil
	}
	data, err := json.Marshal(progressData{Count: p.count})
	if err != nil {
		return p.count, err
	}
	return p.count, p.store.Set(ctx, &Entry{
		Key:       p.key,
		TaskID:    p.taskID,
		Tag:       ProgressKind,
		Data:      data,
		CreatedOn: time.Now().UTC(),
	})
}

// Clear removes the record once the task is finished.
func (p *Progress) Clear(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	return p.store.Remove(ctx, p.key)
}
