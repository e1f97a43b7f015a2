package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/longtask/task"
)

// RedisTaskStore is a Redis-based implementation of TaskStore.
// Suitable for distributed deployments. Each record is a JSON value; a
// sorted set scored by creation time indexes all records and one set per
// status and per definition narrows listing.
type RedisTaskStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTaskStore creates a task store on a shared Redis client.
func NewRedisTaskStore(client redis.UniversalClient, config StoreConfig) *RedisTaskStore {
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "longtask:"
	}
	return &RedisTaskStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
	}
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisTaskStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *RedisTaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisTaskStore) taskKey(taskID string) string {
	return s.keyPrefix + "data:" + taskID
}

func (s *RedisTaskStore) statusKey(status task.Status) string {
	return s.keyPrefix + "status:" + string(status)
}

func (s *RedisTaskStore) definitionKey(definitionID string) string {
	return s.keyPrefix + "definition:" + definitionID
}

func (s *RedisTaskStore) allTasksKey() string {
	return s.keyPrefix + "all"
}

// CreateTask stores a new record. SETNX guards against duplicate ids.
func (s *RedisTaskStore) CreateTask(ctx context.Context, t *task.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.taskKey(t.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.allTasksKey(), redis.Z{Score: float64(t.CreatedOn.UnixNano()), Member: t.ID})
	pipe.SAdd(ctx, s.statusKey(t.Status), t.ID)
	pipe.SAdd(ctx, s.definitionKey(t.DefinitionID), t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *RedisTaskStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}

// UpdateTask replaces a record and moves it between status indices.
func (s *RedisTaskStore) UpdateTask(ctx context.Context, t *task.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	prev, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(t.ID), data, 0)
	if prev.Status != t.Status {
		pipe.SRem(ctx, s.statusKey(prev.Status), t.ID)
		pipe.SAdd(ctx, s.statusKey(t.Status), t.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// ListTasks lists tasks matching the filter
func (s *RedisTaskStore) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	ids, err := s.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*task.Task{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	result := make([]*task.Task, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var t task.Task
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			continue
		}
		if filter.Matches(&t) {
			result = append(result, &t)
		}
	}
	sortTasks(result)
	return paginate(result, filter), nil
}

// candidateIDs picks the narrowest index for the filter.
func (s *RedisTaskStore) candidateIDs(ctx context.Context, filter task.Filter) ([]string, error) {
	switch {
	case filter.DefinitionID != "":
		ids, err := s.client.SMembers(ctx, s.definitionKey(filter.DefinitionID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read definition index: %w", err)
		}
		return ids, nil
	case len(filter.Status) > 0:
		keys := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			keys[i] = s.statusKey(st)
		}
		ids, err := s.client.SUnion(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read status index: %w", err)
		}
		return ids, nil
	default:
		ids, err := s.client.ZRange(ctx, s.allTasksKey(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read task index: %w", err)
		}
		return ids, nil
	}
}

// Stats returns statistics about the task store
func (s *RedisTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
	tasks, err := s.ListTasks(ctx, task.Filter{})
	if err != nil {
		return nil, err
	}
	stats := newStats()
	for _, t := range tasks {
		stats.add(t)
	}
	return stats, nil
}

var _ TaskStore = (*RedisTaskStore)(nil)
