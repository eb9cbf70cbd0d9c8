package posttoken

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestIssuer(t *testing.T, store Store, limiter Limiter, c *clock, opts ...Option) *Issuer {
	t.Helper()
	base := []Option{WithClock(c.Now), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	iss, err := NewIssuer(testSecret, store, limiter, append(base, opts...)...)
	require.NoError(t, err)
	return iss
}

func TestIssueVerify_SingleUse(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, NewMemoryStore(), nil, c)
	ctx := context.Background()

	out, err := iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(DefaultTTL), out.ExpiresAt)
	require.Len(t, strings.Split(out.Token, ":"), 3)

	require.NoError(t, iss.Verify(ctx, out.Token, "u1", "203.0.113.5"))
	assert.ErrorIs(t, iss.Verify(ctx, out.Token, "u1", "203.0.113.5"), ErrAlreadyUsed)
}

func TestVerify_ExpiredRegardlessOfUse(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, NewMemoryStore(), nil, c, WithTTL(time.Minute))
	ctx := context.Background()

	fresh, err := iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)
	used, err := iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)
	require.NoError(t, iss.Verify(ctx, used.Token, "u1", "203.0.113.5"))

	c.Advance(time.Minute)
	assert.ErrorIs(t, iss.Verify(ctx, fresh.Token, "u1", "203.0.113.5"), ErrExpired)
	assert.ErrorIs(t, iss.Verify(ctx, used.Token, "u1", "203.0.113.5"), ErrExpired)
}

func TestVerify_BoundToUserAndIP(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, NewMemoryStore(), nil, c)
	ctx := context.Background()

	out, err := iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)

	assert.ErrorIs(t, iss.Verify(ctx, out.Token, "u2", "203.0.113.5"), ErrInvalidSignature)
	assert.ErrorIs(t, iss.Verify(ctx, out.Token, "u1", "203.0.113.6"), ErrInvalidSignature)

	// Rejections above must not burn the token.
	assert.NoError(t, iss.Verify(ctx, out.Token, "u1", "::ffff:203.0.113.5"))
}

func TestVerify_Malformed(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, NewMemoryStore(), nil, c)
	ctx := context.Background()

	sig := strings.Repeat("a", 64)
	nonce := strings.Repeat("b", 32)
	cases := []string{
		"",
		"abc",
		"1:2",
		"x:" + nonce + ":" + sig,
		"-5:" + nonce + ":" + sig,
		"1700000000000:zz:" + sig,
		"1700000000000:" + nonce + ":short",
		"1700000000000:" + nonce + ":" + sig + ":extra",
	}
	for _, raw := range cases {
		err := iss.Verify(ctx, raw, "u1", "203.0.113.5")
		assert.ErrorIs(t, err, ErrMalformed, "token %q", raw)
		assert.True(t, IsInvalid(err))
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, NewMemoryStore(), nil, c)
	ctx := context.Background()

	out, err := iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)

	parts := strings.Split(out.Token, ":")
	bumped := strings.Join([]string{parts[0] + "1", parts[1], parts[2]}, ":")
	assert.ErrorIs(t, iss.Verify(ctx, bumped, "u1", "203.0.113.5"), ErrInvalidSignature)

	other, err := NewIssuer([]byte("ffffffffffffffffffffffffffffffff"), NewMemoryStore(), nil, WithClock(c.Now))
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(ctx, out.Token, "u1", "203.0.113.5"), ErrInvalidSignature)
}

func TestVerify_ConcurrentRedemptionSucceedsOnce(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	iss := newTestIssuer(t, NewMemoryStore(), nil, c)
	ctx := context.Background()

	out, err := iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)

	var ok, used atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := iss.Verify(ctx, out.Token, "u1", "203.0.113.5"); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyUsed):
				used.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 15, used.Load())
}

func TestIssue_LayeredRateLimits(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	lim, err := ratelimit.New(ratelimit.NewMemoryStore(),
		ratelimit.WithClock(c.Now),
		ratelimit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	iss := newTestIssuer(t, NewMemoryStore(), lim, c, WithLimits(Limits{
		IP:    ratelimit.Rule{Limit: 5, Window: time.Minute},
		User:  ratelimit.Rule{Limit: 4, Window: time.Minute},
		Burst: ratelimit.Rule{Limit: 2, Window: 5 * time.Second},
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := iss.Issue(ctx, "u1", "203.0.113.5")
		require.NoError(t, err)
	}
	_, err = iss.Issue(ctx, "u1", "203.0.113.5")
	var rl RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "burst", rl.Scope)

	// The denied call above still counted against the ip and user layers.
	c.Advance(6 * time.Second)
	_, err = iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)
	c.Advance(6 * time.Second)
	_, err = iss.Issue(ctx, "u1", "203.0.113.5")
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "user", rl.Scope)
	assert.False(t, rl.Result.Allowed)

	// Another account on the same address hits the IP layer.
	_, err = iss.Issue(ctx, "u2", "203.0.113.5")
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "ip", rl.Scope)
}

func TestIssue_InvalidInput(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	iss := newTestIssuer(t, NewMemoryStore(), nil, c)

	_, err := iss.Issue(context.Background(), "", "203.0.113.5")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = iss.Issue(context.Background(), "u1", " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewIssuer([]byte("short"), NewMemoryStore(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPurge(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	iss := newTestIssuer(t, store, nil, c, WithTTL(time.Minute))
	ctx := context.Background()

	_, err := iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)
	c.Advance(2 * time.Minute)
	_, err = iss.Issue(ctx, "u1", "203.0.113.5")
	require.NoError(t, err)

	n, err := iss.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
