package search

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	indices map[string]map[string]struct{}
}

// NewMemoryIndex creates an empty index set.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{indices: make(map[string]map[string]struct{})}
}

func (m *MemoryIndex) ListIndices(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.indices))
	for name := range m.indices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryIndex) ListDocumentIDs(_ context.Context, index, after string, limit int) ([]string, bool, error) {
	limit = normalizeLimit(limit)

	m.mu.RLock()
	docs, ok := m.indices[index]
	if !ok {
		m.mu.RUnlock()
		return nil, false, ErrIndexNotFound
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		if id > after {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	if len(ids) > limit {
		return ids[:limit], true, nil
	}
	return ids, false, nil
}

func (m *MemoryIndex) IndexDocuments(_ context.Context, index string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.indices[index]
	if docs == nil {
		docs = make(map[string]struct{})
		m.indices[index] = docs
	}
	for _, id := range ids {
		docs[id] = struct{}{}
	}
	return nil
}

func (m *MemoryIndex) DeleteDocuments(_ context.Context, index string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.indices[index]
	if !ok {
		return 0, ErrIndexNotFound
	}
	n := 0
	for _, id := range ids {
		if _, ok := docs[id]; ok {
			delete(docs, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of documents in index.
func (m *MemoryIndex) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indices[index])
}
