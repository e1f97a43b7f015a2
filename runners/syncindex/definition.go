package syncindex

import (
	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/search"
	"github.com/BaSui01/longtask/task"
)

// NewDefinition returns the sync-index task definition.
func NewDefinition(index search.Index, primary search.PrimaryStore, retryer retry.Retryer, cfg Config) *task.Definition {
	return &task.Definition{
		ID:          DefinitionID,
		Title:       "Synchronize search index",
		Description: "Deletes search documents that no longer have a primary record.",
		Validator: task.CreateInputValidation(func(in *Input) []task.FieldError {
			if in.Index != "" || in.Cursor != "" || in.Deleted != 0 || len(in.Indices) > 0 {
				return []task.FieldError{{Message: "sync-index takes no trigger input"}}
			}
			return nil
		}),
		Runner: NewRunner(index, primary, retryer, cfg),
	}
}
