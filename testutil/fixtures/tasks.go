package fixtures

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
)

// BaseTime 样例任务的创建时间基准
var BaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Task 返回一条完整填充的任务记录，创建时间为 BaseTime+offset
func Task(id, definitionID string, status task.Status, offset time.Duration) *task.Task {
	return &task.Task{
		ID:           id,
		DefinitionID: definitionID,
		Name:         "task " + id,
		Input:        json.RawMessage(`{"modelId":"article"}`),
		Status:       status,
		Tenant:       "root",
		Locale:       "en-US",
		CreatedBy:    types.Identity{ID: "admin"},
		CreatedOn:    BaseTime.Add(offset),
		UpdatedOn:    BaseTime.Add(offset),
	}
}

// RunContext 构造一次 runner 调用的上下文。input 为 nil 时不带输入。
func RunContext(t testing.TB, taskID, definitionID string, input any, guard task.Guard, store checkpoint.Store) *task.RunContext {
	t.Helper()
	var raw json.RawMessage
	if input != nil {
		var err error
		if raw, err = json.Marshal(input); err != nil {
			t.Fatalf("marshal input: %v", err)
		}
	}
	if guard == nil {
		guard = task.StaticGuard{}
	}
	return &task.RunContext{
		Task:   &task.Task{ID: taskID, DefinitionID: definitionID, Input: raw, Status: task.StatusRunning},
		Input:  raw,
		Guard:  guard,
		Store:  store,
		Logger: zaptest.NewLogger(t),
	}
}
