package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func TestActions_BanAndUnban(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	a, err := NewActions(store, rec)
	require.NoError(t, err)
	a.now = func() time.Time { return testNow }
	ctx := context.Background()

	e, err := a.BanUser(ctx, RestrictInput{Subject: " u1 ", Reason: "spam", IssuedBy: "mod1", Duration: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, "u1", e.Subject)
	require.NotNil(t, e.ExpiresAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *e.ExpiresAt)

	g := newTestGate(t, store)
	st, err := g.CheckUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.Banned)

	n, err := a.UnbanUser(ctx, LiftInput{Subject: "u1", IssuedBy: "mod2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	st, err = g.CheckUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.Banned)

	n, err = a.UnbanUser(ctx, LiftInput{Subject: "u1", IssuedBy: "mod2"})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, rec.events, 2)
	assert.Equal(t, EventBanned, rec.events[0].Type)
	assert.Equal(t, EventUnbanned, rec.events[1].Type)
}

func TestActions_BlacklistNormalizesIP(t *testing.T) {
	store := NewMemoryStore()
	a, err := NewActions(store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	e, err := a.BlacklistIP(ctx, RestrictInput{Subject: "::ffff:192.0.2.10", Reason: "botnet", IssuedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", e.Subject)
	assert.Nil(t, e.ExpiresAt)

	n, err := a.UnblacklistIP(ctx, LiftInput{Subject: "192.0.2.10", IssuedBy: "admin"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestActions_InvalidInput(t *testing.T) {
	a, err := NewActions(NewMemoryStore(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.BanUser(ctx, RestrictInput{Subject: "u1", IssuedBy: "mod"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.BanUser(ctx, RestrictInput{Subject: "", Reason: "x", IssuedBy: "mod"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.BanUser(ctx, RestrictInput{Subject: "u1", Reason: "x", IssuedBy: "mod", Duration: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.UnblacklistIP(ctx, LiftInput{Subject: "1.2.3.4"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
