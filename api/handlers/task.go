package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/longtask/api"
	"github.com/BaSui01/longtask/internal/idempotency"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📋 任务 Handler
// =============================================================================

// TaskService 任务处理器依赖的编排操作，*task.Orchestrator 即满足
type TaskService interface {
	Registry() *task.Registry
	Trigger(ctx context.Context, p task.TriggerParams) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error)
	Abort(ctx context.Context, id, message string) (*task.Task, error)
}

// TaskHandler 任务处理器
type TaskHandler struct {
	svc    TaskService
	logger *zap.Logger

	idem    idempotency.Store
	idemTTL time.Duration
}

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// IdempotencyKeyHeader 客户端重试触发时携带的请求头
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

// NewTaskHandler 创建任务处理器
func NewTaskHandler(svc TaskService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{svc: svc, logger: logger.With(zap.String("component", "task_handler"))}
}

// WithIdempotency 启用 Idempotency-Key 支持
func (h *TaskHandler) WithIdempotency(store idempotency.Store, ttl time.Duration) *TaskHandler {
	h.idem = store
	h.idemTTL = ttl
	return h
}

// Register 注册任务路由
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/definitions", h.HandleListDefinitions)
	mux.HandleFunc("POST /api/v1/tasks", h.HandleTrigger)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/tasks/{id}/abort", h.HandleAbort)
}

// HandleListDefinitions 列出已注册的任务定义
func (h *TaskHandler) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := h.svc.Registry().List()
	out := make([]api.DefinitionInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, api.DefinitionInfo{
			ID:            d.ID,
			Title:         d.Title,
			Description:   d.Description,
			MaxIterations: d.MaxIterations,
		})
	}
	WriteSuccess(w, r, out)
}

// HandleTrigger 创建任务，返回 202 与 pending 记录
func (h *TaskHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.TriggerTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Definition) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "definition is required", h.logger)
		return
	}

	tenant, ok := scopeTenant(r.Context(), req.Tenant)
	if !ok {
		WriteErrorMessage(w, r, http.StatusForbidden, types.ErrForbidden, "tenant does not match the authenticated tenant", h.logger)
		return
	}
	params := task.TriggerParams{
		DefinitionID: req.Definition,
		Name:         req.Name,
		Tenant:       tenant,
		Locale:       req.Locale,
	}
	// 空输入按 {} 校验
	if len(req.Input) > 0 {
		params.Input = req.Input
	} else {
		params.Input = struct{}{}
	}

	if clientKey := r.Header.Get(IdempotencyKeyHeader); clientKey != "" && h.idem != nil {
		h.triggerOnce(w, r, params, clientKey)
		return
	}

	t, err := h.svc.Trigger(r.Context(), params)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusAccepted, t)
}

// triggerOnce 同一 (tenant, definition, key) 只创建一个任务，重复请求返回 200 与原记录
func (h *TaskHandler) triggerOnce(w http.ResponseWriter, r *http.Request, params task.TriggerParams, clientKey string) {
	ctx := r.Context()
	if len(clientKey) > maxIdempotencyKeyLen {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "Idempotency-Key is too long", h.logger)
		return
	}
	tenant := params.Tenant
	if tenant == "" {
		tenant, _ = types.TenantID(ctx)
	}
	key, err := idempotency.Key(tenant, params.DefinitionID, clientKey)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrValidation, err.Error()), h.logger)
		return
	}

	existing, claimed, err := h.idem.Claim(ctx, key, h.idemTTL)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "idempotency store unavailable").
			WithCause(err).WithRetryable(true), h.logger)
		return
	}
	if !claimed {
		if existing == "" {
			WriteError(w, r, types.NewError(types.ErrRequestInProgress, "a request with this Idempotency-Key is in progress").
				WithRetryable(true), h.logger)
			return
		}
		t, err := h.visibleTask(ctx, existing)
		if err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
		w.Header().Set("Idempotent-Replayed", "true")
		WriteSuccess(w, r, t)
		return
	}

	t, err := h.svc.Trigger(ctx, params)
	if err != nil {
		if relErr := h.idem.Release(context.WithoutCancel(ctx), key); relErr != nil {
			h.logger.Warn("failed to release idempotency key", zap.Error(relErr))
		}
		WriteError(w, r, err, h.logger)
		return
	}
	if err := h.idem.Complete(context.WithoutCancel(ctx), key, t.ID, h.idemTTL); err != nil {
		h.logger.Warn("failed to record idempotency key",
			zap.String("task_id", t.ID), zap.Error(err))
	}
	WriteStatus(w, r, http.StatusAccepted, t)
}

// HandleList 按 definition/status/tenant 过滤列出任务
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenant, ok := scopeTenant(r.Context(), q.Get("tenant"))
	if !ok {
		WriteErrorMessage(w, r, http.StatusForbidden, types.ErrForbidden, "tenant does not match the authenticated tenant", h.logger)
		return
	}
	filter := task.Filter{
		DefinitionID: q.Get("definition"),
		Tenant:       tenant,
	}
	for _, s := range q["status"] {
		for _, part := range strings.Split(s, ",") {
			st := task.Status(strings.TrimSpace(part))
			if !st.IsValid() {
				WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "unknown status "+strconv.Quote(part), h.logger)
				return
			}
			filter.Status = append(filter.Status, st)
		}
	}

	var err error
	if filter.Limit, err = intQuery(q.Get("limit"), defaultListLimit); err != nil || filter.Limit <= 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "limit must be a positive integer", h.logger)
		return
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset, err = intQuery(q.Get("offset"), 0); err != nil || filter.Offset < 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "offset must be a non-negative integer", h.logger)
		return
	}

	tasks, err := h.svc.ListTasks(r.Context(), filter)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	WriteSuccess(w, r, api.TaskList{Tasks: tasks, Count: len(tasks), Limit: filter.Limit, Offset: filter.Offset})
}

// HandleGet 返回单个任务记录
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.visibleTask(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, t)
}

// HandleAbort 请求中止任务；运行中的调用经由 guard 观察到中止
func (h *TaskHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	var req api.AbortTaskRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	id := r.PathValue("id")
	if _, err := h.visibleTask(r.Context(), id); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	t, err := h.svc.Abort(r.Context(), id, req.Message)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, t)
}

// scopeTenant 认证得到的租户优先；请求中指定其他租户时 ok 为 false
func scopeTenant(ctx context.Context, requested string) (tenant string, ok bool) {
	if current, set := types.TenantID(ctx); set && current != "" {
		return current, requested == "" || requested == current
	}
	return requested, true
}

// visibleTask 其他租户的任务按不存在处理
func (h *TaskHandler) visibleTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := h.svc.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if current, set := types.TenantID(ctx); set && current != "" && t.Tenant != current {
		return nil, types.Errorf(types.ErrTaskNotFound, "task %q not found", id).WithData("taskId", id)
	}
	return t, nil
}

func intQuery(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
