package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLimiter(t *testing.T, store Store, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithLogger(quietLogger())}, opts...)
	l, err := New(store, opts...)
	require.NoError(t, err)
	return l
}

func TestAllow_ExhaustsThenDenies(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	l := newTestLimiter(t, NewMemoryStore(), clock)
	ctx := context.Background()

	for i, want := range []int{4, 3, 2, 1, 0} {
		res, err := l.Allow(ctx, "ip:1.2.3.4", 5, time.Minute, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i+1)
		assert.Equal(t, want, res.Remaining, "call %d", i+1)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := l.Allow(ctx, "ip:1.2.3.4", 5, time.Minute, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)
}

func TestAllow_ResetsAfterWindow(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := &fakeClock{now: start}
	l := newTestLimiter(t, NewMemoryStore(), clock)
	ctx := context.Background()

	var last Result
	for i := 0; i < 4; i++ {
		var err error
		last, err = l.Allow(ctx, "login:bob", 3, 10*time.Second, 1)
		require.NoError(t, err)
	}
	require.False(t, last.Allowed)

	clock.Set(last.ResetAt.Add(time.Millisecond))
	res, err := l.Allow(ctx, "login:bob", 3, 10*time.Second, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, clock.Now().Add(10*time.Second), res.ResetAt)
}

func TestAllow_WindowEndIsExclusive(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := &fakeClock{now: start}
	l := newTestLimiter(t, NewMemoryStore(), clock)
	ctx := context.Background()

	_, err := l.Allow(ctx, "k:1", 1, time.Second, 1)
	require.NoError(t, err)

	clock.Set(start.Add(time.Second))
	res, err := l.Allow(ctx, "k:1", 1, time.Second, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "now == WindowEnd starts a new window")
}

func TestAllow_Cost(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	l := newTestLimiter(t, NewMemoryStore(), clock)
	ctx := context.Background()

	res, err := l.Allow(ctx, "upload:u1", 10, time.Minute, 4)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 6, res.Remaining)

	res, err = l.Allow(ctx, "upload:u1", 10, time.Minute, 7)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "count+cost above limit")

	res, err = l.Allow(ctx, "upload:u1", 10, time.Minute, 6)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = l.Allow(ctx, "fresh:u1", 3, time.Minute, 4)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "cost above limit is denied even on a fresh window")
}

func TestAllow_InvalidInput(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC()}
	l := newTestLimiter(t, NewMemoryStore(), clock)
	ctx := context.Background()

	cases := []struct {
		name   string
		key    string
		limit  int
		window time.Duration
		cost   int
	}{
		{name: "empty key", key: "  ", limit: 1, window: time.Second, cost: 1},
		{name: "zero limit", key: "k", limit: 0, window: time.Second, cost: 1},
		{name: "zero window", key: "k", limit: 1, window: 0, cost: 1},
		{name: "zero cost", key: "k", limit: 1, window: time.Second, cost: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Allow(ctx, tc.key, tc.limit, tc.window, tc.cost)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

type brokenStore struct {
	getErr error
	putErr error
	puts   int
}

func (s *brokenStore) Get(context.Context, string) (Bucket, error) {
	if s.getErr != nil {
		return Bucket{}, s.getErr
	}
	return Bucket{}, ErrNotFound
}

func (s *brokenStore) Put(context.Context, Bucket) error {
	s.puts++
	return s.putErr
}

func (s *brokenStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func TestAllow_FailsOpenOnReadError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	store := &brokenStore{getErr: errors.New("connection reset")}
	l := newTestLimiter(t, store, clock, WithMetrics(m))

	res, err := l.Allow(context.Background(), "post:u1", 2, time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
	assert.Zero(t, store.puts, "nothing is persisted after a failed read")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("post", outcomeFailOpen)))
}

func TestAllow_FailsOpenOnPersistError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	store := &brokenStore{putErr: errors.New("read-only transaction")}
	l := newTestLimiter(t, store, clock)

	for i := 0; i < 5; i++ {
		res, err := l.Allow(context.Background(), "post:u1", 2, time.Minute, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	assert.Equal(t, 5, store.puts)
}

func TestPurge(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := &fakeClock{now: start}
	store := NewMemoryStore()
	l := newTestLimiter(t, store, clock)
	ctx := context.Background()

	_, err := l.Allow(ctx, "a:1", 1, time.Second, 1)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "b:1", 1, time.Hour, 1)
	require.NoError(t, err)

	n, err := l.Purge(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = store.Get(ctx, "a:1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "b:1")
	assert.NoError(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "post_token_ip:10.0.0.1", Key(" post_token_ip", "10.0.0.1 "))
	assert.Equal(t, "post_token_ip", actionOf(Key("post_token_ip", "10.0.0.1")))
	assert.Equal(t, "other", actionOf("nocolon"))
}
