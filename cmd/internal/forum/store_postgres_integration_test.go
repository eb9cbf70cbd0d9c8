package forum

import (
	"context"
	"testing"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/pgtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_ThreadsAndReplies(t *testing.T) {
	db := pgtest.New(t)
	store, err := NewPostgresStore(db.Pool, WithSchema(db.Schema))
	require.NoError(t, err)
	ctx := context.Background()

	author := ids.MustULID(time.Now())
	db.InsertUser(t, author)

	now := time.Now().UTC().Truncate(time.Millisecond)
	th, err := store.CreateThread(ctx, Thread{ID: ids.MustULID(now), AuthorID: author, Title: "t", Body: "b", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	_, err = store.CreateReply(ctx, Reply{ID: ids.MustULID(now), ThreadID: th.ID, AuthorID: author, Body: "r", CreatedAt: now})
	require.NoError(t, err)
	_, err = store.CreateReply(ctx, Reply{ID: ids.MustULID(now), ThreadID: "missing", AuthorID: author, Body: "r", CreatedAt: now})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplyCount)

	list, err := store.ListThreads(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	replies, err := store.ListReplies(ctx, th.ID, 10)
	require.NoError(t, err)
	assert.Len(t, replies, 1)
}

func TestPostgresStore_Reactions(t *testing.T) {
	db := pgtest.New(t)
	store, err := NewPostgresStore(db.Pool, WithSchema(db.Schema))
	require.NoError(t, err)
	ctx := context.Background()

	author := ids.MustULID(time.Now())
	db.InsertUser(t, author)

	now := time.Now().UTC().Truncate(time.Millisecond)
	th, err := store.CreateThread(ctx, Thread{ID: ids.MustULID(now), AuthorID: author, Title: "t", Body: "b", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	added, err := store.ToggleReaction(ctx, Reaction{ThreadID: th.ID, UserID: author, Kind: ReactionLike, CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.ToggleReaction(ctx, Reaction{ThreadID: th.ID, UserID: author, Kind: ReactionFire, CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, added)

	counts, err := store.ReactionCounts(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ReactionLike: 1, ReactionFire: 1}, counts)

	added, err = store.ToggleReaction(ctx, Reaction{ThreadID: th.ID, UserID: author, Kind: ReactionLike, CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, added)

	_, err = store.ToggleReaction(ctx, Reaction{ThreadID: "missing", UserID: author, Kind: ReactionLike, CreatedAt: now})
	assert.ErrorIs(t, err, ErrNotFound)
}
