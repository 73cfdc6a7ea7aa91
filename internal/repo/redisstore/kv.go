package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a namespaced byte store on Redis. A missing key reads as (nil, nil).
type KV struct {
	client *redis.Client
	prefix string
}

func NewKV(client *redis.Client, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

// Set stores value under key. ttl <= 0 keeps the key until deleted.
func (s *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Incr bumps a counter and returns the new value. The window starts with the first hit.
func (s *KV) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := s.prefix + key
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && window > 0 {
		if err := s.client.Expire(ctx, k, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}
