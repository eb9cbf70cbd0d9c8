package invite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

type recorder struct {
	mu      sync.Mutex
	created []Invite
}

func (r *recorder) InviteCreated(inv Invite) {
	r.mu.Lock()
	r.created = append(r.created, inv)
	r.mu.Unlock()
}

func newTestService(t *testing.T, now *time.Time, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	base := []Option{
		WithClock(func() time.Time { return *now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := NewService(store, append(base, opts...)...)
	require.NoError(t, err)
	return svc, store
}

func TestValidate_Order(t *testing.T) {
	now := t0
	svc, store := newTestService(t, &now)
	ctx := context.Background()

	past := t0.Add(-time.Hour)
	seed := []Invite{
		{ID: "1", Code: "WELCOME1", MaxUses: intPtr(2), Uses: 2, CreatedAt: t0},
		{ID: "2", Code: "OLD", MaxUses: intPtr(1), Uses: 1, ExpiresAt: &past, CreatedAt: t0},
		{ID: "3", Code: "OPEN", CreatedAt: t0, Uses: 1000},
	}
	for _, inv := range seed {
		_, err := store.Create(ctx, inv)
		require.NoError(t, err)
	}

	cases := []struct {
		code   string
		valid  bool
		reason string
	}{
		{code: "WELCOME1", reason: ReasonExhausted},
		{code: "welcome1", reason: ReasonExhausted},
		{code: "old", reason: ReasonExpired},
		{code: "missing", reason: ReasonInvalid},
		{code: "bad code!", reason: ReasonInvalid},
		{code: "", reason: ReasonInvalid},
		{code: " open ", valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			v, err := svc.Validate(ctx, tc.code)
			require.NoError(t, err)
			assert.Equal(t, tc.valid, v.Valid)
			assert.Equal(t, tc.reason, v.Reason)
		})
	}
}

func TestCreate_GeneratesAndNotifies(t *testing.T) {
	now := t0
	rec := &recorder{}
	svc, _ := newTestService(t, &now, WithNotifier(rec))
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateInput{MaxUses: intPtr(5), TTL: 24 * time.Hour, Description: strPtr("  launch  ")})
	require.NoError(t, err)
	assert.Len(t, inv.Code, generatedCodeLen)
	assert.Equal(t, inv.Code, NormalizeCode(inv.Code))
	require.NotNil(t, inv.ExpiresAt)
	assert.Equal(t, t0.Add(24*time.Hour), *inv.ExpiresAt)
	assert.Equal(t, "launch", *inv.Description)
	require.Len(t, rec.created, 1)

	named, err := svc.Create(ctx, CreateInput{Code: "beta-2026"})
	require.NoError(t, err)
	assert.Equal(t, "BETA-2026", named.Code)
	assert.Nil(t, named.ExpiresAt)
	assert.Nil(t, named.MaxUses)

	_, err = svc.Create(ctx, CreateInput{Code: "BETA-2026"})
	assert.ErrorIs(t, err, ErrCodeTaken)
	_, err = svc.Create(ctx, CreateInput{MaxUses: intPtr(0)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(ctx, CreateInput{Code: "no spaces"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRedeem_ConsumesAndAudits(t *testing.T) {
	now := t0
	svc, store := newTestService(t, &now)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Code: "TWICE", MaxUses: intPtr(2)})
	require.NoError(t, err)

	r1, err := svc.Redeem(ctx, "twice", "u1")
	require.NoError(t, err)
	assert.Equal(t, "TWICE", r1.Code)
	_, err = svc.Redeem(ctx, "TWICE", "u2")
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, "TWICE", "u3")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, ReasonExhausted, Reason(err))

	inv, err := store.GetByCode(ctx, "TWICE")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.Uses)
	assert.Len(t, store.Redemptions("TWICE"), 2)

	_, err = svc.Redeem(ctx, "NOPE", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Redeem(ctx, "TWICE", " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRedeem_Expired(t *testing.T) {
	now := t0
	svc, _ := newTestService(t, &now)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Code: "SOON", TTL: time.Hour})
	require.NoError(t, err)

	now = t0.Add(time.Hour)
	_, err = svc.Redeem(ctx, "SOON", "u1")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRedeem_ConcurrentSingleUse(t *testing.T) {
	now := t0
	svc, store := newTestService(t, &now)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Code: "ONCE", MaxUses: intPtr(1)})
	require.NoError(t, err)

	var ok, exhausted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, "ONCE", "u")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrExhausted):
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 31, exhausted.Load())
	inv, err := store.GetByCode(ctx, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Uses)
}

func TestRelease_UndoesRedemption(t *testing.T) {
	now := t0
	svc, store := newTestService(t, &now)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Code: "ONCE", MaxUses: intPtr(1)})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, "ONCE", "u1")
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, "once", "u1"))
	inv, err := store.GetByCode(ctx, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Uses)
	assert.Empty(t, store.Redemptions("ONCE"))

	assert.ErrorIs(t, svc.Release(ctx, "ONCE", "u1"), ErrNotFound)

	_, err = svc.Redeem(ctx, "ONCE", "u2")
	assert.NoError(t, err)
}

func strPtr(s string) *string { return &s }
