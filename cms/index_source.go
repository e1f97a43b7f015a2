package cms

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/longtask/search"
)

// DefaultIndexPrefix 内容索引默认前缀
const DefaultIndexPrefix = "cms-"

// IndexSource exposes entries as the primary store behind a search index
// named <prefix><modelId>. Document ids are entry ids.
type IndexSource struct {
	repo   Repository
	prefix string
}

// NewIndexSource creates an IndexSource.
// An empty prefix falls back to DefaultIndexPrefix.
func NewIndexSource(repo Repository, prefix string) *IndexSource {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	return &IndexSource{repo: repo, prefix: prefix}
}

// IndexName returns the index holding documents of modelID.
func (s *IndexSource) IndexName(modelID string) string {
	return s.prefix + modelID
}

// Exists reports which document ids still have a backing entry.
// An index outside the prefix yields search.ErrUnmappedIndex.
func (s *IndexSource) Exists(ctx context.Context, index string, ids []string) (map[string]bool, error) {
	modelID, ok := strings.CutPrefix(index, s.prefix)
	if !ok || modelID == "" {
		return nil, fmt.Errorf("%w: %s", search.ErrUnmappedIndex, index)
	}
	return s.repo.ExistingEntries(ctx, modelID, ids)
}
