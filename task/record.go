package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/BaSui01/longtask/types"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// IsTerminal reports whether no further invocation may happen.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusAborted
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusError, StatusAborted:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
// running→running is the continue edge; pending→error covers an invocation
// that fails before the runner starts.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusAborted || to == StatusError
	case StatusRunning:
		return to == StatusRunning || to == StatusDone || to == StatusError || to == StatusAborted
	default:
		return false
	}
}

// ErrorInfo is the structured failure stored on a record.
type ErrorInfo struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Data    map[string]any  `json:"data,omitempty"`
}

// Task is the persisted state of one logical unit of work.
type Task struct {
	ID             string          `json:"id"`
	DefinitionID   string          `json:"definitionId"`
	Name           string          `json:"name"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Status         Status          `json:"status"`
	Iterations     int             `json:"iterations"`
	Tenant         string          `json:"tenant,omitempty"`
	Locale         string          `json:"locale,omitempty"`
	CreatedBy      types.Identity  `json:"createdBy"`
	CreatedOn      time.Time       `json:"createdOn"`
	UpdatedOn      time.Time       `json:"updatedOn"`
	StartedOn      *time.Time      `json:"startedOn,omitempty"`
	FinishedOn     *time.Time      `json:"finishedOn,omitempty"`
	NextRunAt      *time.Time      `json:"nextRunAt,omitempty"`
	Message        string          `json:"message,omitempty"`
	Error          *ErrorInfo      `json:"error,omitempty"`
	AbortRequested bool            `json:"abortRequested,omitempty"`
}

// Clone returns a deep copy so callers never share memory with a store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Input != nil {
		c.Input = append(json.RawMessage(nil), t.Input...)
	}
	if t.Output != nil {
		c.Output = append(json.RawMessage(nil), t.Output...)
	}
	c.StartedOn = cloneTime(t.StartedOn)
	c.FinishedOn = cloneTime(t.FinishedOn)
	c.NextRunAt = cloneTime(t.NextRunAt)
	if t.Error != nil {
		e := *t.Error
		if t.Error.Data != nil {
			e.Data = make(map[string]any, len(t.Error.Data))
			for k, v := range t.Error.Data {
				e.Data[k] = v
			}
		}
		c.Error = &e
	}
	return &c
}

// IsRunnable reports whether the task is due for an invocation at now.
func (t *Task) IsRunnable(now time.Time) bool {
	if t.Status != StatusPending && t.Status != StatusRunning {
		return false
	}
	return t.NextRunAt == nil || !t.NextRunAt.After(now)
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Filter selects task records.
type Filter struct {
	DefinitionID string
	Status       []Status
	Tenant       string
	// RunnableAt selects pending/running tasks whose NextRunAt is unset or not after it.
	RunnableAt *time.Time
	Limit      int
	Offset     int
}

// Matches reports whether t passes the filter.
func (f Filter) Matches(t *Task) bool {
	if f.DefinitionID != "" && t.DefinitionID != f.DefinitionID {
		return false
	}
	if f.Tenant != "" && t.Tenant != f.Tenant {
		return false
	}
	if len(f.Status) > 0 {
		ok := false
		for _, s := range f.Status {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.RunnableAt != nil && !t.IsRunnable(*f.RunnableAt) {
		return false
	}
	return true
}

// ErrNotFound is returned by a Store when a record does not exist.
var ErrNotFound = errors.New("task not found")

// Store is the narrow persistence contract the orchestrator needs.
// Writes are last-writer-wins.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, filter Filter) ([]*Task, error)
}
