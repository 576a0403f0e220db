package redis_repository

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/catengine/models"
	"github.com/redis/go-redis/v9"
)

const scanCount = 200

// KV implements repository.KV on a redis client. Every call is bounded by timeout.
type KV struct {
	client  *redis.Client
	timeout time.Duration
}

func NewKV(client *redis.Client, timeout time.Duration) *KV {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &KV{client: client, timeout: timeout}
}

func (r *KV) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrKeyNotFound
		}
		return nil, err
	}
	return val, nil
}

func (r *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *KV) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

// Scan walks the keyspace with SCAN rather than KEYS so large databases are not blocked.
func (r *KV) Scan(ctx context.Context, match string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var keys []string
	iter := r.client.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *KV) Close() error {
	return r.client.Close()
}
