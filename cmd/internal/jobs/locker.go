package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLocked means another holder owns the lock.
var ErrLocked = errors.New("jobs: lock held elsewhere")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker hands out named, expiring locks.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Unlock, error)
}

const lockPrefix = "bytehack:jobs:"

// RedisLocker is a redsync-backed Locker shared by every replica.
type RedisLocker struct {
	rs *redsync.Redsync
}

// NewRedisLocker wraps a go-redis client.
func NewRedisLocker(client redis.UniversalClient) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil redis client", ErrInvalidInput)
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client))}, nil
}

// Acquire tries once. Any failure to take the lock reports ErrLocked.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Unlock, error) {
	m := l.rs.NewMutex(lockPrefix+name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	return func(ctx context.Context) error {
		_, err := m.UnlockContext(ctx)
		return err
	}, nil
}

// LocalLocker serializes runs within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return nil, ErrLocked
	}
	until := now.Add(ttl)
	l.held[name] = until
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[name].Equal(until) {
			delete(l.held, name)
		}
		return nil
	}, nil
}
