package prunelogs

import (
	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/logs"
	"github.com/BaSui01/longtask/task"
)

// NewDefinition returns the prune-logs task definition.
func NewDefinition(repo logs.Repository, retryer retry.Retryer, cfg Config) *task.Definition {
	return &task.Definition{
		ID:          DefinitionID,
		Title:       "Prune logs",
		Description: "Deletes log records older than a cutoff or matching a source/type filter.",
		Validator: task.CreateInputValidation(func(in *Input) []task.FieldError {
			var errs []task.FieldError
			if in.TotalDeleted != 0 {
				errs = append(errs, task.FieldError{Field: "totalDeleted", Message: "must not be set on trigger"})
			}
			if in.Cursor != "" {
				errs = append(errs, task.FieldError{Field: "cursor", Message: "must not be set on trigger"})
			}
			return errs
		}),
		Runner: NewRunner(repo, retryer, cfg),
	}
}
