package logs

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps log records in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*Record)}
}

func (r *MemoryRepository) Insert(_ context.Context, records ...*Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			return ErrInvalidInput
		}
		c := *rec
		r.records[rec.ID] = &c
	}
	return nil
}

func (r *MemoryRepository) List(_ context.Context, params ListParams) (*Page, error) {
	limit := normalizeLimit(params.Limit)

	r.mu.RLock()
	ids := make([]string, 0, len(r.records))
	for id, rec := range r.records {
		if params.Tenant != "" && rec.Tenant != params.Tenant {
			continue
		}
		if id <= params.After {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > limit+1 {
		ids = ids[:limit+1]
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		c := *r.records[id]
		out = append(out, &c)
	}
	r.mu.RUnlock()

	return newPage(out, limit), nil
}

func (r *MemoryRepository) DeleteBatch(_ context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := r.records[id]; ok {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *MemoryRepository) Close(context.Context) error { return nil }
