/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the snapshot cache with Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, username, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) { return "", false, nil }
	if err != nil { return "", false, err }
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	// 0 expiration: values persist until explicitly invalidated or overwritten.
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) DelPrefix(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) { keys = append(keys, iter.Val()) }
	if err := iter.Err(); err != nil { return 0, err }
	if len(keys) == 0 { return 0, nil }
	if err := r.client.Del(ctx, keys...).Err(); err != nil { return 0, err }
	return len(keys), nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
