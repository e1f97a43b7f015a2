package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/longtask/internal/cache"
	"go.uber.org/zap"
)

// RedisStore stores entries as JSON values under a key prefix.
type RedisStore struct {
	manager   *cache.Manager
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore creates a Redis-backed store. ttl of zero keeps entries
// until they are removed.
func NewRedisStore(manager *cache.Manager, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "longtask:checkpoint:"
	}
	return &RedisStore{
		manager:   manager,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "checkpoint_redis")),
	}
}

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	if err := s.manager.GetJSON(ctx, s.key(key), &e); err != nil {
		if cache.IsMiss(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return &e, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Key == "" {
		return ErrInvalidEntry
	}
	if err := s.manager.SetJSON(ctx, s.key(entry.Key), entry, s.ttl); err != nil {
		return fmt.Errorf("set checkpoint %s: %w", entry.Key, err)
	}
	s.logger.Debug("checkpoint set", zap.String("key", entry.Key), zap.String("task_id", entry.TaskID))
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.manager.Delete(ctx, s.key(key)); err != nil {
		return fmt.Errorf("remove checkpoint %s: %w", key, err)
	}
	return nil
}

// Ping implements Backend.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.manager.Ping(ctx)
}

// Close implements Backend. The shared manager is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}

var _ Backend = (*RedisStore)(nil)
