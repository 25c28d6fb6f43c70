package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisResultStore 把战绩 JSON 追加到一个 Redis list 上（只追加，不改写）
type RedisResultStore struct {
	client *redis.Client
	key    string
}

func NewRedisResultStore(addr, key string) *RedisResultStore {
	if key == "" {
		key = "match_results"
	}
	return &RedisResultStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

func (s *RedisResultStore) Append(ctx context.Context, res *MatchResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, b).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisResultStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisResultStore) Close() error {
	return s.client.Close()
}
