package deletemodel

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/cms"
	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/task"
)

// NewDefinition returns the delete-model task definition.
func NewDefinition(repo cms.Repository, retryer retry.Retryer, cfg Config) *task.Definition {
	return &task.Definition{
		ID:          DefinitionID,
		Title:       "Delete model",
		Description: "Deletes a content model together with its entries and folders.",
		Validator: task.CreateInputValidation(func(in *Input) []task.FieldError {
			errs := task.Required("modelId", in.ModelID)
			switch in.Phase {
			case "", PhaseEntries, PhaseFolders, PhaseModel:
			default:
				errs = append(errs, task.FieldError{Field: "phase", Message: "must be entries, folders or model"})
			}
			return errs
		}),
		Runner: NewRunner(repo, retryer, cfg),
		Hooks: task.Hooks{
			OnError:         releaseCheckpoint,
			OnAbort:         releaseCheckpoint,
			OnMaxIterations: releaseCheckpoint,
		},
	}
}

// releaseCheckpoint removes the deletion checkpoint when the finished task
// still owns it, e.g. after an abort before the first invocation.
func releaseCheckpoint(ctx context.Context, t *task.Task, store checkpoint.Store) error {
	var in Input
	if err := json.Unmarshal(t.Input, &in); err != nil || in.ModelID == "" {
		return err
	}
	key := CheckpointKey(in.ModelID)
	entry, err := checkpoint.Lookup(ctx, store, key)
	if err != nil || entry == nil || entry.TaskID != t.ID {
		return err
	}
	return store.Remove(ctx, key)
}
