package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "bytehack:rl:"

// RedisStore keeps each bucket in a hash that expires with its window.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a RedisStore. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, ErrInvalidInput
	}
	return &RedisStore{client: client}, nil
}

// Get loads the bucket for key.
func (s *RedisStore) Get(ctx context.Context, key string) (Bucket, error) {
	vals, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return Bucket{}, err
	}
	if len(vals) == 0 {
		return Bucket{}, ErrNotFound
	}

	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		return Bucket{}, err
	}
	end, err := strconv.ParseInt(vals["window_end"], 10, 64)
	if err != nil {
		return Bucket{}, err
	}
	refill, err := strconv.ParseInt(vals["last_refill"], 10, 64)
	if err != nil {
		return Bucket{}, err
	}

	return Bucket{
		Key:        key,
		Count:      count,
		WindowEnd:  time.UnixMilli(end).UTC(),
		LastRefill: time.UnixMilli(refill).UTC(),
	}, nil
}

// Put writes the bucket and lets Redis expire it at window end.
func (s *RedisStore) Put(ctx context.Context, b Bucket) error {
	k := redisKeyPrefix + b.Key
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k,
			"count", b.Count,
			"window_end", b.WindowEnd.UnixMilli(),
			"last_refill", b.LastRefill.UnixMilli(),
		)
		p.PExpireAt(ctx, k, b.WindowEnd)
		return nil
	})
	return err
}

// DeleteExpired is a no-op: Redis expires buckets on its own.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
