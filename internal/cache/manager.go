// Package cache provides the shared Redis connection manager.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrMiss 键不存在
	ErrMiss = errors.New("cache: key not found")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache: manager closed")
)

// IsMiss 判断是否为未命中
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// Config Redis 连接配置
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	// SlowThreshold 超过该耗时的命令记 warn 日志，0 表示关闭
	SlowThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		MaxRetries:    3,
		DialTimeout:   5 * time.Second,
		SlowThreshold: 100 * time.Millisecond,
	}
}

// =============================================================================
// 💾 Manager
// =============================================================================

// Manager 持有共享的 Redis 客户端，供检查点、任务存储、索引与幂等键使用
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	closed atomic.Bool
}

// NewManager 建立连接并 Ping 一次，失败时不返回半初始化的客户端
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
	})

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	m := Wrap(client, logger)
	if cfg.SlowThreshold > 0 {
		client.AddHook(&slowLog{threshold: cfg.SlowThreshold, logger: m.logger})
	}
	m.logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return m, nil
}

// Wrap 包装已有客户端，Close 时一并关闭
func Wrap(client *redis.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{client: client, logger: logger.With(zap.String("component", "cache"))}
}

// Client 返回底层客户端
func (m *Manager) Client() *redis.Client {
	return m.client
}

func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// GetJSON 读取 key 并解码到 dest；不存在时返回 ErrMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	if m.closed.Load() {
		return ErrClosed
	}
	raw, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON 编码后写入；ttl 为 0 时不过期，检查点依赖此语义
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := m.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete 删除键，不存在的键不报错
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close 可重复调用
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("closing redis client")
	return m.client.Close()
}

// =============================================================================
// 🐢 慢命令日志
// =============================================================================

type slowLog struct {
	threshold time.Duration
	logger    *zap.Logger
}

var _ redis.Hook = (*slowLog)(nil)

func (h *slowLog) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *slowLog) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		if elapsed := time.Since(start); elapsed >= h.threshold {
			h.logger.Warn("slow redis command",
				zap.String("cmd", cmd.Name()),
				zap.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}

func (h *slowLog) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		if elapsed := time.Since(start); elapsed >= h.threshold {
			h.logger.Warn("slow redis pipeline",
				zap.Int("cmds", len(cmds)),
				zap.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
