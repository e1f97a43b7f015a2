package cms

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a model does not exist.
	ErrNotFound = errors.New("cms: not found")
	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("cms: already exists")
	// ErrInvalidInput is returned for records missing required fields.
	ErrInvalidInput = errors.New("cms: invalid input")
)

// Model is a content model definition.
type Model struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tenant    string    `json:"tenant,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	CreatedOn time.Time `json:"createdOn"`
}

// Entry is one content entry belonging to a model.
type Entry struct {
	ID        string          `json:"id"`
	ModelID   string          `json:"modelId"`
	Tenant    string          `json:"tenant,omitempty"`
	Locale    string          `json:"locale,omitempty"`
	Values    json.RawMessage `json:"values,omitempty"`
	CreatedOn time.Time       `json:"createdOn"`
}

// Folder groups entries of a model.
type Folder struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId"`
	ParentID  string    `json:"parentId,omitempty"`
	Title     string    `json:"title"`
	CreatedOn time.Time `json:"createdOn"`
}

// Repository is the content store the delete-model runner works against.
// List methods return records ordered by id with id > after. Deletes are
// idempotent: removing a record that is already gone is not an error.
type Repository interface {
	CreateModel(ctx context.Context, m *Model) error
	GetModel(ctx context.Context, id string) (*Model, error)
	DeleteModel(ctx context.Context, id string) error

	CreateEntry(ctx context.Context, e *Entry) error
	ListEntries(ctx context.Context, modelID, after string, limit int) ([]*Entry, error)
	DeleteEntry(ctx context.Context, modelID, id string) error
	// ExistingEntries returns which of ids still exist for the model.
	ExistingEntries(ctx context.Context, modelID string, ids []string) (map[string]bool, error)

	CreateFolder(ctx context.Context, f *Folder) error
	ListFolders(ctx context.Context, modelID, after string, limit int) ([]*Folder, error)
	DeleteFolder(ctx context.Context, modelID, id string) error
}

func validateModel(m *Model) error {
	if m == nil || m.ID == "" {
		return ErrInvalidInput
	}
	return nil
}

func validateEntry(e *Entry) error {
	if e == nil || e.ID == "" || e.ModelID == "" {
		return ErrInvalidInput
	}
	return nil
}

func validateFolder(f *Folder) error {
	if f == nil || f.ID == "" || f.ModelID == "" {
		return ErrInvalidInput
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
