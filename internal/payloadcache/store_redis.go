package payloadcache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// redisKeyPrefix namespaces per-handle hashes.
	redisKeyPrefix = "repolens:payload:"
	// redisSweepKey is the sorted set scoring every handle by created_at,
	// standing in for the created_at index of the SQL backends.
	redisSweepKey = "repolens:payload:created_at"
)

// RedisStore implements Store on Redis: one hash per handle plus a sorted set
// scored by created_at that serves the sweep's range query.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis payload store on an existing client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{client: client}, nil
}

// Init is a no-op; Redis needs no schema.
func (s *RedisStore) Init(_ context.Context) error {
	return nil
}

func (s *RedisStore) Insert(ctx context.Context, row Row) error {
	createdAt := unixSeconds(row.CreatedAt)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKeyPrefix+row.Handle, map[string]interface{}{
		"content":    row.Content,
		"created_at": createdAt,
		"total_size": row.TotalSize,
	})
	pipe.ZAdd(ctx, redisSweepKey, redis.Z{Score: createdAt, Member: row.Handle})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert payload: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, handle string) (Row, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+handle).Result()
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to read payload: %w", err)
	}
	if len(fields) == 0 {
		return Row{}, false, nil
	}

	createdAt, err := strconv.ParseFloat(fields["created_at"], 64)
	if err != nil {
		return Row{}, false, fmt.Errorf("corrupt created_at for handle %s: %w", handle, err)
	}
	totalSize, err := strconv.Atoi(fields["total_size"])
	if err != nil {
		return Row{}, false, fmt.Errorf("corrupt total_size for handle %s: %w", handle, err)
	}

	return Row{
		Handle:    handle,
		Content:   fields["content"],
		CreatedAt: fromUnixSeconds(createdAt),
		TotalSize: totalSize,
	}, true, nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	max := strconv.FormatFloat(unixSeconds(cutoff), 'f', -1, 64)

	// "(" makes the bound exclusive, matching the SQL backends' created_at < cutoff.
	handles, err := s.client.ZRangeByScore(ctx, redisSweepKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired payloads: %w", err)
	}
	if len(handles) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, handle := range handles {
		pipe.Del(ctx, redisKeyPrefix+handle)
	}
	pipe.ZRemRangeByScore(ctx, redisSweepKey, "-inf", "("+max)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete expired payloads: %w", err)
	}

	return int64(len(handles)), nil
}

// Close is a no-op; the client is owned by the storage layer.
func (s *RedisStore) Close() error {
	return nil
}
