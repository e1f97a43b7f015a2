package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/longtask/task"
)

// MemoryTaskStore is an in-memory implementation of TaskStore.
// Suitable for development and testing.
type MemoryTaskStore struct {
	tasks  map[string]*task.Task
	mu     sync.RWMutex
	closed bool
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*task.Task),
	}
}

// Close closes the store
func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryTaskStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateTask stores a new task record
func (s *MemoryTaskStore) CreateTask(ctx context.Context, t *task.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.tasks[t.ID]; exists {
		return ErrAlreadyExists
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// GetTask retrieves a task by ID
func (s *MemoryTaskStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// UpdateTask replaces an existing task record
func (s *MemoryTaskStore) UpdateTask(ctx context.Context, t *task.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// ListTasks lists tasks matching the filter
func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var result []*task.Task
	for _, t := range s.tasks {
		if filter.Matches(t) {
			result = append(result, t.Clone())
		}
	}
	sortTasks(result)
	return paginate(result, filter), nil
}

// Stats returns statistics about the task store
func (s *MemoryTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	stats := newStats()
	for _, t := range s.tasks {
		stats.add(t)
	}
	return stats, nil
}

var _ TaskStore = (*MemoryTaskStore)(nil)
