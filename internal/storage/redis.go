package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStorage implements Storage for Redis
type redisStorage struct {
	client *redis.Client
}

// NewRedis creates a new Redis storage connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("Redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &redisStorage{client: client}, nil
}

func (s *redisStorage) Type() string {
	return TypeRedis
}

func (s *redisStorage) SQLiteDB() *sql.DB {
	return nil
}

func (s *redisStorage) PostgreSQLPool() interface{} {
	return nil
}

func (s *redisStorage) MongoDatabase() interface{} {
	return nil
}

func (s *redisStorage) RedisClient() interface{} {
	return s.client
}

func (s *redisStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
