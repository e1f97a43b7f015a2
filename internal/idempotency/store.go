package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// pending 是占位值：键已被认领，但触发尚未完成
const pending = "\x00pending"

// DefaultTTL 未指定 TTL 时幂等记录的保留时间
const DefaultTTL = 24 * time.Hour

// Store 把客户端幂等键映射到它创建的任务 ID
//
// 触发流程：
//
//	Claim -> Trigger -> Complete(taskID)   成功
//	Claim -> Trigger 失败 -> Release       允许重试
type Store interface {
	// Claim 认领 key。key 已存在时 claimed=false，taskID 为已记录的任务
	// （触发仍在进行中时为空）。
	Claim(ctx context.Context, key string, ttl time.Duration) (taskID string, claimed bool, err error)

	// Complete 记录 key 对应的任务 ID
	Complete(ctx context.Context, key, taskID string, ttl time.Duration) error

	// Release 删除 key
	Release(ctx context.Context, key string) error
}

// Key 根据租户、定义与客户端提供的键生成存储键（SHA256）。
// 同一客户端键在不同租户或定义下互不冲突。
func Key(tenant, definitionID, clientKey string) (string, error) {
	if clientKey == "" {
		return "", errors.New("idempotency key must not be empty")
	}
	data, err := json.Marshal([]string{tenant, definitionID, clientKey})
	if err != nil {
		return "", fmt.Errorf("marshal idempotency key: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// =============================================================================
// 🔴 Redis 实现
// =============================================================================

// RedisStore 基于 Redis SETNX 的幂等存储，多副本共享
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisStore 创建基于 Redis 的幂等存储
func NewRedisStore(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "idempotency:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger.With(zap.String("component", "idempotency"))}
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	redisKey := s.prefix + key
	ok, err := s.client.SetNX(ctx, redisKey, pending, normalizeTTL(ttl)).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	val, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// 认领后过期或被释放，按仍在进行中处理，由客户端重试
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == pending {
		val = ""
	}
	s.logger.Debug("idempotency key hit", zap.String("key", key), zap.String("task_id", val))
	return val, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, taskID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, taskID, normalizeTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// =============================================================================
// 🧠 内存实现
// =============================================================================

// MemoryStore 进程内幂等存储，过期条目在访问时和后台定期清理
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	logger  *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

type memoryEntry struct {
	taskID    string
	expiresAt time.Time
}

// NewMemoryStore 创建内存幂等存储。cleanupInterval <= 0 时不启动后台清理。
func NewMemoryStore(cleanupInterval time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "idempotency")),
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

// WithClock 替换时间源
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	expired := 0
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			expired++
		}
	}
	if expired > 0 {
		s.logger.Debug("cleaned up expired idempotency entries",
			zap.Int("expired", expired),
			zap.Int("remaining", len(s.entries)))
	}
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && !now.After(e.expiresAt) {
		return e.taskID, false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(normalizeTTL(ttl))}
	return "", true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, taskID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{taskID: taskID, expiresAt: s.now().Add(normalizeTTL(ttl))}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len 返回未清理的条目数（含已过期但尚未清理的）
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close 停止后台清理
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}
