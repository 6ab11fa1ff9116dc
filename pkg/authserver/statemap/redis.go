// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package statemap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces correlator keys inside a shared Redis instance.
const keyPrefix = "bankmcp:state:"

// RedisMapper is the Redis-backed Mapper used when the gateway scales past a
// single process. Expiry is delegated to Redis key TTLs.
type RedisMapper struct {
	client *redis.Client
}

// NewRedisMapper connects to the Redis instance at url
// (redis://[user:pass@]host:port/db) and verifies the connection.
func NewRedisMapper(ctx context.Context, url string) (*RedisMapper, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisMapper{client: client}, nil
}

// Set stores value under key for at most ttl.
func (r *RedisMapper) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// GetAndDelete returns the value and removes it atomically via GETDEL.
func (r *RedisMapper) GetAndDelete(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.GetDel(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}
	return value, nil
}

// Close releases the Redis connection pool.
func (r *RedisMapper) Close() error {
	return r.client.Close()
}

var _ Mapper = (*RedisMapper)(nil)
