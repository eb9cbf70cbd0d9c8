package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/pgtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_GateAndActions(t *testing.T) {
	db := pgtest.New(t)

	store, err := NewPostgresStore(db.Pool, WithSchema(db.Schema))
	require.NoError(t, err)
	actions, err := NewActions(store, nil)
	require.NoError(t, err)
	gate, err := NewGate(store)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()

	// Stale row: flag still set but already expired.
	past := now.Add(-time.Minute)
	require.NoError(t, store.Insert(ctx, Entry{
		ID: "01J00000000000000000000001", Kind: KindUser, Subject: "u1",
		Reason: "old", IssuedBy: "mod", CreatedAt: now.Add(-time.Hour), ExpiresAt: &past, Active: true,
	}))

	st, err := gate.CheckUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.Banned)

	_, err = actions.BanUser(ctx, RestrictInput{Subject: "u1", Reason: "fresh", IssuedBy: "mod"})
	require.NoError(t, err)
	_, err = actions.BlacklistIP(ctx, RestrictInput{Subject: "198.51.100.9", Reason: "proxy", IssuedBy: "mod", Duration: time.Hour})
	require.NoError(t, err)

	st, err = gate.Check(ctx, "u1", "198.51.100.9")
	require.NoError(t, err)
	assert.Equal(t, KindUser, st.Kind)
	assert.Equal(t, "fresh", st.Reason)
	assert.True(t, st.Permanent)

	n, err := actions.UnbanUser(ctx, LiftInput{Subject: "u1", IssuedBy: "mod"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "stale and fresh rows are both cleared")

	st, err = gate.Check(ctx, "u1", "198.51.100.9")
	require.NoError(t, err)
	assert.Equal(t, KindIP, st.Kind)
	assert.False(t, st.Permanent)
}
