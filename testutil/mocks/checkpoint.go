// =============================================================================
// 💾 FailingStore - 检查点存储错误注入
// =============================================================================
// 包装任意 checkpoint.Store，按字段注入错误并记录调用次数。
//
// 使用方法:
//
//	store := mocks.NewFailingStore(checkpoint.NewMemoryStore()).WithSetError(errors.New("down"))
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/longtask/checkpoint"
)

// FailingStore 在配置了错误时让对应操作失败，否则委托给内部存储
type FailingStore struct {
	inner checkpoint.Store

	mu        sync.Mutex
	getErr    error
	setErr    error
	removeErr error

	getCalls    int
	setCalls    int
	removeCalls int
}

// NewFailingStore 包装 inner
func NewFailingStore(inner checkpoint.Store) *FailingStore {
	return &FailingStore{inner: inner}
}

// WithGetError 设置 Get 错误
func (s *FailingStore) WithGetError(err error) *FailingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
	return s
}

// WithSetError 设置 Set 错误
func (s *FailingStore) WithSetError(err error) *FailingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
	return s
}

// WithRemoveError 设置 Remove 错误
func (s *FailingStore) WithRemoveError(err error) *FailingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeErr = err
	return s
}

func (s *FailingStore) Get(ctx context.Context, key string) (*checkpoint.Entry, error) {
	s.mu.Lock()
	s.getCalls++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, key)
}

func (s *FailingStore) Set(ctx context.Context, entry *checkpoint.Entry) error {
	s.mu.Lock()
	s.setCalls++
	err := s.setErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, entry)
}

func (s *FailingStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.removeCalls++
	err := s.removeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.Remove(ctx, key)
}

// SetCalls 返回 Set 调用次数（含失败）
func (s *FailingStore) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

// GetCalls 返回 Get 调用次数（含失败）
func (s *FailingStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// RemoveCalls 返回 Remove 调用次数（含失败）
func (s *FailingStore) RemoveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeCalls
}
