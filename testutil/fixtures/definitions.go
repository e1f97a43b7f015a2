// =============================================================================
// 📋 任务定义样例
// =============================================================================
// 提供测试用的最小任务定义，覆盖分片续跑与输入校验
// =============================================================================
package fixtures

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/longtask/task"
)

// CounterID 是 CounterDefinition 的定义 ID
const CounterID = "counter"

// CounterInput 计数任务的输入，每次调用 Count 加一直到 Stop
type CounterInput struct {
	Count int `json:"count"`
	Stop  int `json:"stop"`
}

// CounterDefinition 每次调用推进一步，Count 到达 Stop 时完成，输出 {"count":N}
func CounterDefinition() *task.Definition {
	return &task.Definition{
		ID:    CounterID,
		Title: "Counter",
		Validator: task.CreateInputValidation(func(in *CounterInput) []task.FieldError {
			if in.Stop < 0 {
				return []task.FieldError{{Field: "stop", Message: "must not be negative"}}
			}
			return nil
		}),
		Runner: task.RunnerFunc(func(_ context.Context, rc *task.RunContext) task.Result {
			var in CounterInput
			if err := json.Unmarshal(rc.Input, &in); err != nil {
				return rc.Response.Error(err)
			}
			if in.Count >= in.Stop {
				return rc.Response.Done(map[string]int{"count": in.Count})
			}
			in.Count++
			return rc.Response.Continue(in)
		}),
	}
}

// EchoID 是 EchoDefinition 的定义 ID
const EchoID = "echo"

// EchoInput 回显任务输入，Message 必填
type EchoInput struct {
	Message string `json:"message"`
}

// EchoDefinition 一次调用即完成，输出 {"message":...}
func EchoDefinition() *task.Definition {
	return &task.Definition{
		ID:    EchoID,
		Title: "Echo",
		Validator: task.CreateInputValidation(func(in *EchoInput) []task.FieldError {
			if in.Message == "" {
				return []task.FieldError{{Field: "message", Message: "is required"}}
			}
			return nil
		}),
		Runner: task.RunnerFunc(func(_ context.Context, rc *task.RunContext) task.Result {
			var in EchoInput
			if err := json.Unmarshal(rc.Input, &in); err != nil {
				return rc.Response.Error(err)
			}
			return rc.Response.Done(in)
		}),
	}
}
