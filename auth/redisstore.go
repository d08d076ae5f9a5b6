package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session state in a Redis hash per session, for
// deployments running more than one gateway instance behind a balancer. The
// hash key carries the session TTL; every write refreshes it.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(sid string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sid)
}

// Put stores a value in the session hash and refreshes the session TTL.
func (r *RedisStore) Put(ctx context.Context, sid, key, value string) error {
	k := r.key(sid)
	if err := r.client.HSet(ctx, k, key, value).Err(); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	if err := r.client.Expire(ctx, k, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

// Get returns the value stored under key, or absent.
func (r *RedisStore) Get(ctx context.Context, sid, key string) (string, bool, error) {
	value, err := r.client.HGet(ctx, r.key(sid), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

// Remove deletes the value stored under key.
func (r *RedisStore) Remove(ctx context.Context, sid, key string) error {
	if err := r.client.HDel(ctx, r.key(sid), key).Err(); err != nil {
		return fmt.Errorf("redis remove: %w", err)
	}
	return nil
}

// Clear drops the whole session hash.
func (r *RedisStore) Clear(ctx context.Context, sid string) error {
	if err := r.client.Del(ctx, r.key(sid)).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}
