package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "tripsync:"

// RedisBackend stores the key space in Redis under a prefix. The byte quota
// is enforced client-side; a server-side maxmemory OOM reply maps to the
// same error.
type RedisBackend struct {
	client *redis.Client
	prefix string
	quota  int
}

func NewRedisBackend(redisURL, prefix string, quota int) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBackendWithClient(client, prefix, quota), nil
}

func NewRedisBackendWithClient(client *redis.Client, prefix string, quota int) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, quota: quota}
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	if r.quota > 0 {
		used, err := r.used(ctx)
		if err != nil {
			return err
		}
		old, err := r.client.StrLen(ctx, r.key(key)).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to measure %s: %w", key, err)
		}
		if old > 0 {
			used -= len(key) + int(old)
		}
		if used+len(key)+len(value) > r.quota {
			return ErrQuotaExceeded
		}
	}

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		if isOOM(err) {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) used(ctx context.Context) (int, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, k := range keys {
		n, err := r.client.StrLen(ctx, r.key(k)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to measure %s: %w", k, err)
		}
		total += len(k) + int(n)
	}
	return total, nil
}

func isOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return strings.HasPrefix(rerr.Error(), "OOM")
	}
	return false
}
