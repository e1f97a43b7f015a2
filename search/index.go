package search

import (
	"context"
	"errors"
)

// ErrIndexNotFound is returned when an index does not exist.
var ErrIndexNotFound = errors.New("search: index not found")

// ErrUnmappedIndex is returned by a PrimaryStore asked about an index it has
// no records for. Treating such an index as empty would delete every document.
var ErrUnmappedIndex = errors.New("search: index has no primary mapping")

// Index is the search side of index reconciliation. Document ids within an
// index are listed in ascending order after an exclusive cursor.
type Index interface {
	ListIndices(ctx context.Context) ([]string, error)
	// ListDocumentIDs returns up to limit ids greater than after, and
	// whether more remain.
	ListDocumentIDs(ctx context.Context, index, after string, limit int) ([]string, bool, error)
	IndexDocuments(ctx context.Context, index string, ids ...string) error
	// DeleteDocuments removes ids and returns how many were present.
	DeleteDocuments(ctx context.Context, index string, ids []string) (int, error)
}

// PrimaryStore is the source of truth behind an index.
type PrimaryStore interface {
	// Exists reports which ids still have a backing record. It returns
	// ErrUnmappedIndex for an index it does not back.
	Exists(ctx context.Context, index string, ids []string) (map[string]bool, error)
}

// PrimaryStoreFunc adapts a function to PrimaryStore.
type PrimaryStoreFunc func(ctx context.Context, index string, ids []string) (map[string]bool, error)

// Exists implements PrimaryStore.
func (f PrimaryStoreFunc) Exists(ctx context.Context, index string, ids []string) (map[string]bool, error) {
	return f(ctx, index, ids)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 10000 {
		return 1000
	}
	return limit
}
