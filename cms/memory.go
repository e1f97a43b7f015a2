package cms

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryRepository keeps content in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	models  map[string]*Model
	entries map[string]map[string]*Entry
	folders map[string]map[string]*Folder
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		models:  make(map[string]*Model),
		entries: make(map[string]map[string]*Entry),
		folders: make(map[string]map[string]*Folder),
	}
}

func (r *MemoryRepository) CreateModel(_ context.Context, m *Model) error {
	if err := validateModel(m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.ID]; ok {
		return ErrAlreadyExists
	}
	c := *m
	r.models[m.ID] = &c
	return nil
}

func (r *MemoryRepository) GetModel(_ context.Context, id string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *MemoryRepository) DeleteModel(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, id)
	return nil
}

func (r *MemoryRepository) CreateEntry(_ context.Context, e *Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.entries[e.ModelID]
	if byID == nil {
		byID = make(map[string]*Entry)
		r.entries[e.ModelID] = byID
	}
	if _, ok := byID[e.ID]; ok {
		return ErrAlreadyExists
	}
	c := *e
	c.Values = append(json.RawMessage(nil), e.Values...)
	byID[e.ID] = &c
	return nil
}

func (r *MemoryRepository) ListEntries(_ context.Context, modelID, after string, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID := r.entries[modelID]
	ids := sortedAfter(keys(byID), after, normalizeLimit(limit))
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		c := *byID[id]
		out = append(out, &c)
	}
	return out, nil
}

func (r *MemoryRepository) DeleteEntry(_ context.Context, modelID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries[modelID], id)
	return nil
}

func (r *MemoryRepository) ExistingEntries(_ context.Context, modelID string, ids []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.entries[modelID][id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateFolder(_ context.Context, f *Folder) error {
	if err := validateFolder(f); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.folders[f.ModelID]
	if byID == nil {
		byID = make(map[string]*Folder)
		r.folders[f.ModelID] = byID
	}
	if _, ok := byID[f.ID]; ok {
		return ErrAlreadyExists
	}
	c := *f
	byID[f.ID] = &c
	return nil
}

func (r *MemoryRepository) ListFolders(_ context.Context, modelID, after string, limit int) ([]*Folder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID := r.folders[modelID]
	ids := sortedAfter(keys(byID), after, normalizeLimit(limit))
	out := make([]*Folder, 0, len(ids))
	for _, id := range ids {
		c := *byID[id]
		out = append(out, &c)
	}
	return out, nil
}

func (r *MemoryRepository) DeleteFolder(_ context.Context, modelID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.folders[modelID], id)
	return nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedAfter(ids []string, after string, limit int) []string {
	sort.Strings(ids)
	start := sort.SearchStrings(ids, after)
	for start < len(ids) && ids[start] <= after {
		start++
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}
