package api

import (
	"encoding/json"
	"time"
)

// =============================================================================
// 任务请求与响应
// =============================================================================

// TriggerTaskRequest 创建任务请求
type TriggerTaskRequest struct {
	// 任务定义 ID（例如 deleteModel、pruneLogs、syncIndex）
	Definition string `json:"definition"`
	// 可选的显示名称，默认取定义标题
	Name string `json:"name,omitempty"`
	// 定义输入，由定义的校验器严格解码
	Input json.RawMessage `json:"input,omitempty"`
	// 覆盖请求上下文中的租户与语言
	Tenant string `json:"tenant,omitempty"`
	Locale string `json:"locale,omitempty"`
}

// AbortTaskRequest 中止任务请求，请求体可省略
type AbortTaskRequest struct {
	Message string `json:"message,omitempty"`
}

// TaskList 任务列表响应
type TaskList struct {
	Tasks  any `json:"tasks"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// DefinitionInfo 已注册任务定义的描述
type DefinitionInfo struct {
	ID            string `json:"id"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// =============================================================================
// 模型删除
// =============================================================================

// ModelDeletion 模型删除状态响应
type ModelDeletion struct {
	ModelID   string    `json:"model_id"`
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status,omitempty"`
	StartedBy string    `json:"started_by,omitempty"`
	StartedOn time.Time `json:"started_on"`
	Task      any       `json:"task,omitempty"`
}
