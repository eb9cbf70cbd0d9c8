package ratelimit

import (
	"context"
	"time"
)

// Bucket is the persisted counter for one key.
type Bucket struct {
	Key        string
	Count      int
	WindowEnd  time.Time
	LastRefill time.Time
}

// Store is the persistence boundary for buckets.
// Get returns ErrNotFound when no bucket exists.
type Store interface {
	Get(ctx context.Context, key string) (Bucket, error)
	Put(ctx context.Context, b Bucket) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
