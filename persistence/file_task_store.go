package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BaSui01/longtask/task"
)

// FileTaskStore 基于文件的 TaskStore 实现，适合单节点部署。
// 全部记录缓存在内存中，每次写入后整体原子落盘。
type FileTaskStore struct {
	baseDir string
	tasks   map[string]*task.Task
	mu      sync.RWMutex
	closed  bool
}

// NewFileTaskStore 创建文件任务存储并加载已有记录
func NewFileTaskStore(config StoreConfig) (*FileTaskStore, error) {
	baseDir := filepath.Join(config.BaseDir, "tasks")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task store directory: %w", err)
	}

	store := &FileTaskStore{
		baseDir: baseDir,
		tasks:   make(map[string]*task.Task),
	}

	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load tasks from disk: %w", err)
	}

	return store, nil
}

func (s *FileTaskStore) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

// loadFromDisk 从磁盘加载所有任务到内存
func (s *FileTaskStore) loadFromDisk() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var tasks map[string]*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return err
	}
	if tasks != nil {
		s.tasks = tasks
	}
	return nil
}

// saveToDisk 原子写：写入临时文件后重命名
func (s *FileTaskStore) saveToDisk() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return err
	}

	tempPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.indexPath())
}

// Close 关闭存储并落盘
func (s *FileTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveToDisk()
}

// Ping 健康检查
func (s *FileTaskStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateTask 写入新任务
func (s *FileTaskStore) CreateTask(ctx context.Context, t *task.Task) error {
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
	if err := s.saveToDisk(); err != nil {
		delete(s.tasks, t.ID)
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask 通过 ID 获取任务
func (s *FileTaskStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
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

// UpdateTask 覆盖已有任务，落盘失败时回滚内存状态
func (s *FileTaskStore) UpdateTask(ctx context.Context, t *task.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	prev, ok := s.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}

	s.tasks[t.ID] = t.Clone()
	if err := s.saveToDisk(); err != nil {
		s.tasks[t.ID] = prev
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// ListTasks 检索匹配过滤条件的任务
func (s *FileTaskStore) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
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

// Stats 返回统计信息
func (s *FileTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
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

var _ TaskStore = (*FileTaskStore)(nil)
