package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisIndex keeps each index as a sorted set with all scores 0, so members
// are ordered lexicographically and paged with ZRANGEBYLEX.
type RedisIndex struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisIndex creates a Redis-backed index set.
func NewRedisIndex(client redis.UniversalClient, keyPrefix string) *RedisIndex {
	if keyPrefix == "" {
		keyPrefix = "longtask:search:"
	}
	return &RedisIndex{client: client, keyPrefix: keyPrefix}
}

func (r *RedisIndex) indicesKey() string {
	return r.keyPrefix + "indices"
}

func (r *RedisIndex) docsKey(index string) string {
	return r.keyPrefix + "index:" + index
}

func (r *RedisIndex) ListIndices(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.indicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisIndex) ListDocumentIDs(ctx context.Context, index, after string, limit int) ([]string, bool, error) {
	limit = normalizeLimit(limit)

	known, err := r.client.SIsMember(ctx, r.indicesKey(), index).Result()
	if err != nil {
		return nil, false, fmt.Errorf("check index: %w", err)
	}
	if !known {
		return nil, false, ErrIndexNotFound
	}

	lower := "-"
	if after != "" {
		lower = "(" + after
	}
	ids, err := r.client.ZRangeByLex(ctx, r.docsKey(index), &redis.ZRangeBy{
		Min:   lower,
		Max:   "+",
		Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return nil, false, fmt.Errorf("list documents: %w", err)
	}
	if len(ids) > limit {
		return ids[:limit], true, nil
	}
	return ids, false, nil
}

func (r *RedisIndex) IndexDocuments(ctx context.Context, index string, ids ...string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.indicesKey(), index)
	if len(ids) > 0 {
		members := make([]redis.Z, 0, len(ids))
		for _, id := range ids {
			members = append(members, redis.Z{Score: 0, Member: id})
		}
		pipe.ZAdd(ctx, r.docsKey(index), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index documents: %w", err)
	}
	return nil
}

func (r *RedisIndex) DeleteDocuments(ctx context.Context, index string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		members = append(members, id)
	}
	n, err := r.client.ZRem(ctx, r.docsKey(index), members...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return int(n), nil
}
