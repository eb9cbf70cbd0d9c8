package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, locker Locker) *Scheduler {
	t.Helper()
	s, err := New(locker, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithTimeout(time.Second))
	require.NoError(t, err)
	return s
}

type fakeTokens struct{ n int64 }

func (f *fakeTokens) Purge(context.Context) (int64, error) { return f.n, nil }

type fakeBuckets struct{ before time.Time }

func (f *fakeBuckets) Purge(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 3, nil
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.NoError(t, s.Add(Task{Name: "tokens", Schedule: "*/5 * * * *", Run: PurgeTokens(&fakeTokens{n: 7})}))

	n, err := s.RunNow(context.Background(), "tokens")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = s.RunNow(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestScheduler_AddValidates(t *testing.T) {
	s := newTestScheduler(t, nil)
	fn := PurgeTokens(&fakeTokens{})

	require.ErrorIs(t, s.Add(Task{Schedule: "* * * * *", Run: fn}), ErrInvalidInput)
	require.ErrorIs(t, s.Add(Task{Name: "a", Run: fn}), ErrInvalidInput)
	require.ErrorIs(t, s.Add(Task{Name: "a", Schedule: "* * * * *"}), ErrInvalidInput)
	require.NoError(t, s.Add(Task{Name: "a", Schedule: "* * * * *", Run: fn}))
	require.ErrorIs(t, s.Add(Task{Name: "a", Schedule: "* * * * *", Run: fn}), ErrInvalidInput)
	assert.Equal(t, []string{"a"}, s.Tasks())
}

func TestScheduler_SkipsWhenLocked(t *testing.T) {
	locker := NewLocalLocker()
	s := newTestScheduler(t, locker)

	var runs atomic.Int32
	require.NoError(t, s.Add(Task{Name: "slow", Schedule: "* * * * *", Run: func(context.Context) (int64, error) {
		runs.Add(1)
		return 0, nil
	}}))

	unlock, err := locker.Acquire(context.Background(), "slow", time.Minute)
	require.NoError(t, err)

	_, err = s.RunNow(context.Background(), "slow")
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, int32(0), runs.Load())

	require.NoError(t, unlock(context.Background()))
	_, err = s.RunNow(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduler_RunPropagatesTaskError(t *testing.T) {
	s := newTestScheduler(t, nil)
	boom := errors.New("boom")
	require.NoError(t, s.Add(Task{Name: "bad", Schedule: "* * * * *", Run: func(context.Context) (int64, error) { return 0, boom }}))

	_, err := s.RunNow(context.Background(), "bad")
	require.ErrorIs(t, err, boom)

	// the lock is released after a failed run
	_, err = s.RunNow(context.Background(), "bad")
	require.ErrorIs(t, err, boom)
}

func TestScheduler_RunRejectsBadSchedule(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.NoError(t, s.Add(Task{Name: "bad", Schedule: "not a schedule", Run: PurgeTokens(&fakeTokens{})}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, s.Run(ctx))
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.NoError(t, s.Add(Task{Name: "tokens", Schedule: "0 3 * * *", Run: PurgeTokens(&fakeTokens{})}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPurgeBuckets_AppliesGrace(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := &fakeBuckets{}

	n, err := PurgeBuckets(b, time.Hour, func() time.Time { return now })(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, now.Add(-time.Hour), b.before)
}

func TestLocalLocker_Expires(t *testing.T) {
	l := NewLocalLocker()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	_, err := l.Acquire(context.Background(), "x", time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), "x", time.Second)
	require.ErrorIs(t, err, ErrLocked)

	now = now.Add(2 * time.Second)
	_, err = l.Acquire(context.Background(), "x", time.Second)
	require.NoError(t, err)
}

func TestRedisLocker(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("BYTEHACK_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: BYTEHACK_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(raw)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("integration test skipped: Redis unreachable: %v", err)
	}

	l, err := NewRedisLocker(client)
	require.NoError(t, err)

	name := "it-" + time.Now().Format("150405.000000")
	unlock, err := l.Acquire(ctx, name, 5*time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, name, 5*time.Second)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock(ctx))
	unlock, err = l.Acquire(ctx, name, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}
