package modfeed

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h, err := NewHub(quietLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	return h
}

func TestHub_PublishFansOut(t *testing.T) {
	h := newTestHub(t)
	a := NewClient("u1", "s1", 4)
	b := NewClient("u2", "s2", 4)
	h.Join(a)
	h.Join(b)
	require.Equal(t, 2, h.Len())

	h.Publish(moderation.Event{Type: moderation.EventBanned, Kind: moderation.KindUser, Subject: "user-9", IssuedBy: "admin"})

	for _, c := range []*Client{a, b} {
		select {
		case env := <-c.Send:
			assert.Equal(t, TypeModeration, env.Type)
			assert.Equal(t, Version, env.V)
			assert.Len(t, env.ID, 26)

			var ev moderation.Event
			require.NoError(t, json.Unmarshal(env.Payload, &ev))
			assert.Equal(t, "user-9", ev.Subject)
			assert.Equal(t, moderation.EventBanned, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("client %s got nothing", c.SessionID)
		}
	}
}

func TestHub_InviteCreated(t *testing.T) {
	h := newTestHub(t)
	c := NewClient("u1", "s1", 4)
	h.Join(c)

	h.InviteCreated(invite.Invite{ID: "inv-1", Code: "WELCOME1"})

	env := <-c.Send
	assert.Equal(t, TypeInviteCreated, env.Type)
	var inv invite.Invite
	require.NoError(t, json.Unmarshal(env.Payload, &inv))
	assert.Equal(t, "WELCOME1", inv.Code)
}

func TestHub_FullQueueDrops(t *testing.T) {
	h := newTestHub(t)
	c := NewClient("u1", "s1", 1)
	h.Join(c)

	h.Publish(moderation.Event{Subject: "a"})
	h.Publish(moderation.Event{Subject: "b"})

	assert.Len(t, c.Send, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.dropped))
}

func TestHub_LeaveClosesClient(t *testing.T) {
	h := newTestHub(t)
	c := NewClient("u1", "s1", 1)
	h.Join(c)
	h.Leave("s1")

	assert.Equal(t, 0, h.Len())
	select {
	case <-c.Done():
	default:
		t.Fatal("client not closed")
	}

	h.Publish(moderation.Event{Subject: "a"})
	assert.Empty(t, c.Send)
	assert.Equal(t, float64(0), testutil.ToFloat64(h.connected))
}

func TestHub_NilSafe(t *testing.T) {
	var h *Hub
	h.Publish(moderation.Event{})
	h.Join(NewClient("u", "s", 1))
	h.Leave("s")
	assert.Equal(t, 0, h.Len())
}

func TestFrameLimiter(t *testing.T) {
	l := newFrameLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	assert.True(t, l.Allow(now))
	assert.True(t, l.Allow(now.Add(100*time.Millisecond)))
	assert.False(t, l.Allow(now.Add(200*time.Millisecond)))
	assert.True(t, l.Allow(now.Add(1100*time.Millisecond)))
}
