package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStorage keeps token values in Redis so several dashboard instances
// can share remembered sessions. Keys expire on their own.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedisStorage connects to redisURL and checks the connection.
func OpenRedisStorage(
	redisURL string,
	ttl time.Duration,
) (
	*RedisStorage,
	error,
) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorage(client, ttl), nil
}

func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStorage{client: client, prefix: "gatehouse:", ttl: ttl}
}

func (s *RedisStorage) Get(
	ctx context.Context,
	key string,
) (
	string,
	bool,
	error,
) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return value, true, nil
}

func (s *RedisStorage) Set(
	ctx context.Context,
	key string,
	value string,
) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStorage) Delete(
	ctx context.Context,
	key string,
) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
