package deletemodel

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/cms"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
)

// Service is the administrative entry point for model deletion.
type Service struct {
	orch   *task.Orchestrator
	repo   cms.Repository
	store  checkpoint.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service. The checkpoint store is the orchestrator's.
func NewService(orch *task.Orchestrator, repo cms.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orch:   orch,
		repo:   repo,
		store:  orch.CheckpointStore(),
		logger: logger.With(zap.String("component", "delete_model_service")),
		now:    time.Now,
	}
}

// Status describes an in-progress deletion.
type Status struct {
	ModelID    string            `json:"modelId"`
	Checkpoint *checkpoint.Entry `json:"checkpoint"`
	Task       *task.Task        `json:"task,omitempty"`
}

// FullyDeleteModel starts a deletion task for modelID. A model that already
// has a deletion checkpoint is rejected with ALREADY_BEING_DELETED.
func (s *Service) FullyDeleteModel(ctx context.Context, modelID string) (*task.Task, error) {
	if modelID == "" {
		return nil, types.NewError(types.ErrValidation, "model id is required")
	}
	model, err := s.repo.GetModel(ctx, modelID)
	if errors.Is(err, cms.ErrNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "model %q not found", modelID).WithData("modelId", modelID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to load model").WithCause(err)
	}

	key := CheckpointKey(modelID)
	existing, err := checkpoint.Lookup(ctx, s.store, key)
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointFailed, "failed to read checkpoint").WithCause(err)
	}
	if existing != nil {
		return nil, alreadyBeingDeleted(modelID, existing.TaskID)
	}

	t, err := s.orch.Trigger(ctx, task.TriggerParams{
		DefinitionID: DefinitionID,
		Name:         "Delete model " + modelID,
		Input:        Input{ModelID: modelID},
		Tenant:       model.Tenant,
		Locale:       model.Locale,
	})
	if err != nil {
		return nil, err
	}

	entry := &checkpoint.Entry{
		Key:       key,
		TaskID:    t.ID,
		Tag:       CheckpointTag,
		Owner:     t.CreatedBy,
		CreatedOn: s.now().UTC(),
	}
	if err := s.store.Set(ctx, entry); err != nil {
		// fail closed: 不带检查点的删除任务不允许运行
		if _, abortErr := s.orch.Abort(ctx, t.ID, "failed to write deletion checkpoint"); abortErr != nil {
			s.logger.Warn("failed to abort task after checkpoint failure",
				zap.String("task_id", t.ID), zap.Error(abortErr))
		}
		return nil, types.NewError(types.ErrCheckpointFailed, "failed to write deletion checkpoint").
			WithCause(err).WithData("modelId", modelID)
	}

	s.logger.Info("model deletion started",
		zap.String("model_id", modelID),
		zap.String("task_id", t.ID),
	)
	return t, nil
}

// CancelDeleteModel requests abort of the task deleting modelID.
func (s *Service) CancelDeleteModel(ctx context.Context, modelID string) (*task.Task, error) {
	key := CheckpointKey(modelID)
	entry, err := checkpoint.Lookup(ctx, s.store, key)
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointFailed, "failed to read checkpoint").WithCause(err)
	}
	if entry == nil {
		return nil, types.Errorf(types.ErrNotFound, "model %q is not being deleted", modelID).WithData("modelId", modelID)
	}

	t, err := s.orch.Abort(ctx, entry.TaskID, "model deletion cancelled")
	if err != nil {
		if types.IsErrorCode(err, types.ErrTaskFinished) || types.IsErrorCode(err, types.ErrTaskNotFound) {
			// 残留的检查点：任务已不存在或已结束
			if rmErr := s.store.Remove(ctx, key); rmErr != nil {
				s.logger.Warn("failed to remove stale checkpoint", zap.String("key", key), zap.Error(rmErr))
			}
		}
		return nil, err
	}

	s.logger.Info("model deletion cancel requested",
		zap.String("model_id", modelID),
		zap.String("task_id", entry.TaskID),
	)
	return t, nil
}

// DeletionStatus returns the checkpoint and owning task for modelID.
func (s *Service) DeletionStatus(ctx context.Context, modelID string) (*Status, error) {
	entry, err := checkpoint.Lookup(ctx, s.store, CheckpointKey(modelID))
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointFailed, "failed to read checkpoint").WithCause(err)
	}
	if entry == nil {
		return nil, types.Errorf(types.ErrNotFound, "model %q is not being deleted", modelID).WithData("modelId", modelID)
	}

	st := &Status{ModelID: modelID, Checkpoint: entry}
	t, err := s.orch.GetTask(ctx, entry.TaskID)
	switch {
	case err == nil:
		st.Task = t
	case !types.IsErrorCode(err, types.ErrTaskNotFound):
		return nil, err
	}
	return st, nil
}
