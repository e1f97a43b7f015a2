package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/types"
)

// =============================================================================
// ⚙️ 配置
// =============================================================================

// OrchestratorConfig 编排器配置
type OrchestratorConfig struct {
	// 单次调用的时间预算
	InvocationTimeout time.Duration `json:"invocation_timeout"`
	// 剩余预算低于该值时 Guard 报告即将超时
	SafetyMargin time.Duration `json:"safety_margin"`
	// 任务定义未设置 MaxIterations 时的上限
	DefaultMaxIterations int `json:"default_max_iterations"`
}

// DefaultOrchestratorConfig 返回默认配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		InvocationTimeout:    14 * time.Minute,
		SafetyMargin:         30 * time.Second,
		DefaultMaxIterations: 500,
	}
}

// MetricsRecorder receives invocation and completion events.
type MetricsRecorder interface {
	RecordInvocation(definitionID string, outcome Status, duration time.Duration)
	RecordTaskFinished(definitionID string, status Status)
	RecordItems(definitionID, action string, count int)
}

type noopMetrics struct{}

func (noopMetrics) RecordInvocation(string, Status, time.Duration) {}
func (noopMetrics) RecordTaskFinished(string, Status)              {}
func (noopMetrics) RecordItems(string, string, int)                {}

// =============================================================================
// 🎯 编排器
// =============================================================================

// Orchestrator owns the task lifecycle: trigger, abort, and one invocation
// at a time per task. Re-invocation timing is left to the caller
// (Scheduler, an external queue, or RunToCompletion).
type Orchestrator struct {
	config   OrchestratorConfig
	registry *Registry
	tasks    Store
	store    checkpoint.Store
	metrics  MetricsRecorder
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, registry *Registry, tasks Store, store checkpoint.Store, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InvocationTimeout <= 0 {
		cfg.InvocationTimeout = DefaultOrchestratorConfig().InvocationTimeout
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}

	o := &Orchestrator{
		config:   cfg,
		registry: registry,
		tasks:    tasks,
		store:    store,
		metrics:  noopMetrics{},
		tracer:   otel.Tracer("longtask/task"),
		logger:   logger.With(zap.String("component", "orchestrator")),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the definition registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// CheckpointStore returns the checkpoint store handed to runners.
func (o *Orchestrator) CheckpointStore() checkpoint.Store {
	return o.store
}

// TriggerParams describes a new task.
type TriggerParams struct {
	DefinitionID string
	Name         string
	// Input is marshalled to JSON unless it already is json.RawMessage.
	Input     any
	Tenant    string
	Locale    string
	CreatedBy types.Identity
}

// Trigger validates input and creates a pending task record.
func (o *Orchestrator) Trigger(ctx context.Context, p TriggerParams) (*Task, error) {
	def, ok := o.registry.Get(p.DefinitionID)
	if !ok {
		return nil, types.Errorf(types.ErrDefinitionNotFound, "task definition %q not found", p.DefinitionID).
			WithData("definitionId", p.DefinitionID)
	}

	raw, err := marshal(p.Input)
	if err != nil {
		verr := &ValidationError{DefinitionID: def.ID, Fields: []FieldError{{Message: err.Error()}}}
		return nil, verr.AsTypesError()
	}
	if def.Validator != nil {
		normalized, fieldErrs := def.Validator.Validate(raw)
		if len(fieldErrs) > 0 {
			verr := &ValidationError{DefinitionID: def.ID, Fields: fieldErrs}
			return nil, verr.AsTypesError()
		}
		raw = normalized
	}

	tenant := p.Tenant
	if tenant == "" {
		tenant, _ = types.TenantID(ctx)
	}
	locale := p.Locale
	if locale == "" {
		locale, _ = types.Locale(ctx)
	}
	createdBy := p.CreatedBy
	if createdBy.IsZero() {
		if userID, ok := types.UserID(ctx); ok {
			createdBy = types.Identity{ID: userID}
		}
	}
	name := p.Name
	if name == "" {
		name = def.Title
	}
	if name == "" {
		name = def.ID
	}

	now := o.now().UTC()
	t := &Task{
		ID:           o.newID(),
		DefinitionID: def.ID,
		Name:         name,
		Input:        raw,
		Status:       StatusPending,
		Tenant:       tenant,
		Locale:       locale,
		CreatedBy:    createdBy,
		CreatedOn:    now,
		UpdatedOn:    now,
	}
	if err := o.tasks.CreateTask(ctx, t); err != nil {
		return nil, types.NewError(types.ErrStore, "failed to create task").WithCause(err)
	}

	o.logger.Info("task triggered",
		zap.String("task_id", t.ID),
		zap.String("definition_id", t.DefinitionID),
		zap.String("tenant", t.Tenant),
	)
	return t.Clone(), nil
}

// GetTask returns a task record.
func (o *Orchestrator) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := o.tasks.GetTask(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, types.Errorf(types.ErrTaskNotFound, "task %q not found", id).WithData("taskId", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to load task").WithCause(err).WithData("taskId", id)
	}
	return t, nil
}

// ListTasks returns task records matching filter.
func (o *Orchestrator) ListTasks(ctx context.Context, filter Filter) ([]*Task, error) {
	tasks, err := o.tasks.ListTasks(ctx, filter)
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to list tasks").WithCause(err)
	}
	return tasks, nil
}

// Abort records a cancellation request. It does not stop a running
// invocation; the runner observes it through its guard. A task that has
// never been invoked is finalized immediately.
func (o *Orchestrator) Abort(ctx context.Context, id, message string) (*Task, error) {
	if message == "" {
		message = "aborted by request"
	}
	t, err := o.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, StatusAborted) {
		return nil, types.Errorf(types.ErrTaskFinished, "task %q already finished with status %s", id, t.Status).
			WithData("taskId", id).
			WithData("status", string(t.Status))
	}
	finalize := t.Status == StatusPending && t.Iterations == 0

	now := o.now().UTC()
	t.AbortRequested = true
	t.Message = message
	t.UpdatedOn = now

	if finalize {
		t.Status = StatusAborted
		t.FinishedOn = &now
		t.NextRunAt = nil
	}
	if err := o.tasks.UpdateTask(ctx, t); err != nil {
		return nil, types.NewError(types.ErrStore, "failed to record abort").WithCause(err).WithData("taskId", id)
	}

	o.logger.Info("task abort requested",
		zap.String("task_id", id),
		zap.String("definition_id", t.DefinitionID),
		zap.Bool("finalized", finalize),
	)

	if finalize {
		o.metrics.RecordTaskFinished(t.DefinitionID, StatusAborted)
		if def, ok := o.registry.Get(t.DefinitionID); ok {
			o.runHook(ctx, "on_abort", def.Hooks.OnAbort, t)
		}
	}
	return t.Clone(), nil
}

// Invocation is the outcome of one Invoke call.
type Invocation struct {
	Task   *Task
	Result Result
	// Delay is the minimum wait before the next invocation, set on Continue.
	Delay time.Duration
}

// Terminal reports whether the task needs no further invocation.
func (i *Invocation) Terminal() bool {
	return i.Task.Status.IsTerminal()
}

// Invoke runs exactly one invocation of a task and persists the outcome.
// The iteration counter is incremented and persisted before the runner is
// called. Panics and missing results become terminal errors.
func (o *Orchestrator) Invoke(ctx context.Context, id string) (*Invocation, error) {
	start := o.now()

	t, err := o.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, types.Errorf(types.ErrTaskFinished, "task %q already finished with status %s", id, t.Status).
			WithData("taskId", id)
	}

	logger := o.logger.With(
		zap.String("task_id", t.ID),
		zap.String("definition_id", t.DefinitionID),
	)

	def, ok := o.registry.Get(t.DefinitionID)
	if !ok {
		res := Failed{Info: ErrorInfo{
			Code:    types.ErrDefinitionNotFound,
			Message: fmt.Sprintf("task definition %q not found", t.DefinitionID),
			Data:    map[string]any{"definitionId": t.DefinitionID},
		}}
		return o.finish(ctx, nil, t, res, start, logger)
	}

	// 迭代之间的取消：不再调用 runner
	if t.AbortRequested {
		return o.finish(ctx, def, t, Aborted{}, start, logger)
	}

	maxIterations := def.MaxIterations
	if maxIterations == 0 {
		maxIterations = o.config.DefaultMaxIterations
	}
	if maxIterations > 0 && t.Iterations >= maxIterations {
		res := Failed{Info: ErrorInfo{
			Code:    types.ErrMaxIterationsExceeded,
			Message: fmt.Sprintf("task exceeded the maximum of %d iterations", maxIterations),
			Data:    map[string]any{"taskId": t.ID, "maxIterations": maxIterations},
		}}
		inv, err := o.finish(ctx, def, t, res, start, logger)
		if err == nil {
			o.runHook(ctx, "on_max_iterations", def.Hooks.OnMaxIterations, inv.Task)
		}
		return inv, err
	}

	if !CanTransition(t.Status, StatusRunning) {
		return nil, types.Errorf(types.ErrTaskFinished, "task %q cannot start from status %s", id, t.Status).
			WithData("taskId", id)
	}
	now := start.UTC()
	t.Iterations++
	if t.Status == StatusPending {
		t.Status = StatusRunning
		t.StartedOn = &now
	}
	t.NextRunAt = nil
	t.UpdatedOn = now
	if err := o.tasks.UpdateTask(ctx, t); err != nil {
		return nil, types.NewError(types.ErrStore, "failed to record invocation start").WithCause(err).WithData("taskId", id)
	}

	ctx, span := o.tracer.Start(ctx, "task.invoke", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.definition_id", t.DefinitionID),
		attribute.Int("task.iteration", t.Iterations),
	))
	defer span.End()

	ctx = types.WithTaskID(ctx, t.ID)
	if t.Tenant != "" {
		ctx = types.WithTenantID(ctx, t.Tenant)
	}
	if t.Locale != "" {
		ctx = types.WithLocale(ctx, t.Locale)
	}

	guard := NewTimerGuard(
		Deadline(ctx, start, o.config.InvocationTimeout),
		o.config.SafetyMargin,
		o.abortCheck(ctx, t.ID, logger),
	).WithClock(o.now).WithContext(ctx)

	rc := &RunContext{
		Task:     t.Clone(),
		Input:    append(json.RawMessage(nil), t.Input...),
		Response: Response{},
		Guard:    guard,
		Store:    o.store,
		Logger:   logger.With(zap.Int("iteration", t.Iterations)),
		Progress: func(action string, count int) {
			if count > 0 {
				o.metrics.RecordItems(def.ID, action, count)
			}
		},
	}

	logger.Debug("invoking runner", zap.Int("iteration", t.Iterations))
	result := o.runSafely(ctx, def, rc, logger)
	if result == nil {
		result = Failed{Info: ErrorInfo{
			Code:    types.ErrContractViolation,
			Message: "runner returned no result",
			Data:    map[string]any{"definitionId": def.ID},
		}}
	}

	span.SetAttributes(attribute.String("task.outcome", string(result.Status())))
	if f, ok := result.(Failed); ok {
		span.SetStatus(codes.Error, f.Info.Message)
	}

	return o.finish(ctx, def, t, result, start, logger)
}

// runSafely converts a runner panic into a terminal error.
func (o *Orchestrator) runSafely(ctx context.Context, def *Definition, rc *RunContext, logger *zap.Logger) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("runner panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			result = Failed{Info: ErrorInfo{
				Code:    types.ErrRunnerPanic,
				Message: fmt.Sprintf("runner panicked: %v", r),
				Data:    map[string]any{"definitionId": def.ID, "taskId": rc.Task.ID},
			}}
		}
	}()
	return def.Runner.Run(ctx, rc)
}

func (o *Orchestrator) abortCheck(ctx context.Context, id string, logger *zap.Logger) AbortFunc {
	return func() bool {
		latest, err := o.tasks.GetTask(ctx, id)
		if err != nil {
			logger.Warn("abort check failed", zap.Error(err))
			return false
		}
		return latest.AbortRequested || latest.Status == StatusAborted
	}
}

// finish applies result to t, persists it and fires hooks. def may be nil
// when the definition is unknown.
func (o *Orchestrator) finish(ctx context.Context, def *Definition, t *Task, result Result, start time.Time, logger *zap.Logger) (*Invocation, error) {
	// 结果一旦产生就必须落库，调用方取消（节点关闭）也不例外
	ctx = context.WithoutCancel(ctx)
	now := o.now().UTC()

	if latest, err := o.tasks.GetTask(ctx, t.ID); err == nil {
		// 记录已被其他调用或中止请求终结，丢弃本次结果
		if !CanTransition(latest.Status, result.Status()) {
			logger.Warn("discarding invocation result for finished task",
				zap.String("status", string(latest.Status)),
				zap.String("result", string(result.Status())),
			)
			return &Invocation{Task: latest, Result: result}, nil
		}
		// 保留调用期间到达的取消请求
		if latest.AbortRequested && !t.AbortRequested {
			t.AbortRequested = true
			if t.Message == "" {
				t.Message = latest.Message
			}
		}
	}

	inv := &Invocation{Result: result}

	switch r := result.(type) {
	case Continue:
		t.Status = StatusRunning
		if r.Input != nil {
			t.Input = r.Input
		}
		t.NextRunAt = nil
		if r.Delay > 0 {
			next := now.Add(r.Delay)
			t.NextRunAt = &next
		}
		inv.Delay = r.Delay
	case Done:
		t.Status = StatusDone
		t.Output = r.Output
		t.Error = nil
		t.FinishedOn = &now
		t.NextRunAt = nil
	case Failed:
		info := r.Info
		t.Status = StatusError
		t.Error = &info
		t.Message = info.Message
		t.FinishedOn = &now
		t.NextRunAt = nil
	case Aborted:
		t.Status = StatusAborted
		if t.Message == "" {
			t.Message = "task aborted"
		}
		t.FinishedOn = &now
		t.NextRunAt = nil
	}
	t.UpdatedOn = now

	if err := o.tasks.UpdateTask(ctx, t); err != nil {
		logger.Error("failed to persist invocation result", zap.Error(err))
		return nil, types.NewError(types.ErrStore, "failed to persist invocation result").WithCause(err).WithData("taskId", t.ID)
	}

	defID := t.DefinitionID
	o.metrics.RecordInvocation(defID, t.Status, o.now().Sub(start))

	fields := []zap.Field{
		zap.String("status", string(t.Status)),
		zap.Int("iteration", t.Iterations),
		zap.Duration("duration", o.now().Sub(start)),
	}
	switch t.Status {
	case StatusRunning:
		logger.Debug("task continues", append(fields, zap.Duration("delay", inv.Delay))...)
	case StatusError:
		logger.Warn("task failed", append(fields, zap.String("code", string(t.Error.Code)), zap.String("message", t.Message))...)
	default:
		logger.Info("task finished", fields...)
	}

	if t.Status.IsTerminal() {
		o.metrics.RecordTaskFinished(defID, t.Status)
		if def != nil {
			switch t.Status {
			case StatusDone:
				o.runHook(ctx, "on_done", def.Hooks.OnDone, t)
			case StatusError:
				o.runHook(ctx, "on_error", def.Hooks.OnError, t)
			case StatusAborted:
				o.runHook(ctx, "on_abort", def.Hooks.OnAbort, t)
			}
		}
	}

	inv.Task = t.Clone()
	return inv, nil
}

func (o *Orchestrator) runHook(ctx context.Context, name string, hook Hook, t *Task) {
	if hook == nil {
		return
	}
	if err := hook(ctx, t.Clone(), o.store); err != nil {
		o.logger.Warn("task hook failed",
			zap.String("hook", name),
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
}
