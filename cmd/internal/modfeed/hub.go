package modfeed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
)

// Hub fans moderation events out to every subscribed client.
// Broadcast never blocks: a full queue drops the frame for that client.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client

	connected prometheus.Gauge
	dropped   prometheus.Counter
}

// NewHub constructs a Hub. reg may be nil.
func NewHub(log *slog.Logger, reg prometheus.Registerer) (*Hub, error) {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		clients: make(map[string]*Client),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bytehack",
			Subsystem: "modfeed",
			Name:      "clients",
			Help:      "Connected moderation feed clients.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bytehack",
			Subsystem: "modfeed",
			Name:      "dropped_total",
			Help:      "Envelopes dropped because a client queue was full.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{h.connected, h.dropped} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

// Join subscribes a client.
func (h *Hub) Join(c *Client) {
	if h == nil || c == nil || c.SessionID == "" {
		return
	}
	h.mu.Lock()
	h.clients[c.SessionID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.connected.Set(float64(n))
	h.log.Info("modfeed.client.join", "session_id", c.SessionID, "user_id", c.UserID)
}

// Leave unsubscribes a client and signals it to stop.
// Removal happens before Close so a broadcaster never sees a closing client it still owns.
func (h *Hub) Leave(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}
	h.mu.Lock()
	c := h.clients[sessionID]
	delete(h.clients, sessionID)
	n := len(h.clients)
	h.mu.Unlock()

	if c != nil {
		c.Close()
	}
	h.connected.Set(float64(n))
	h.log.Info("modfeed.client.leave", "session_id", sessionID)
}

// Len reports the number of subscribed clients.
func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers env to every client that has room for it.
func (h *Hub) Broadcast(env Envelope) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			h.dropped.Inc()
			h.log.Warn("modfeed.broadcast.drop", "session_id", c.SessionID, "type", env.Type)
		}
	}
}

// Publish forwards a committed moderation action to the feed.
func (h *Hub) Publish(ev moderation.Event) {
	h.emit(TypeModeration, ev)
}

// InviteCreated forwards a newly minted invite to the feed.
func (h *Hub) InviteCreated(inv invite.Invite) {
	h.emit(TypeInviteCreated, inv)
}

func (h *Hub) emit(typ string, payload any) {
	if h == nil {
		return
	}
	env, err := NewEnvelope(typ, payload, h.now())
	if err != nil {
		h.log.Error("modfeed.envelope.fail", "type", typ, "err", err)
		return
	}
	h.Broadcast(env)
}

var (
	_ moderation.Notifier = (*Hub)(nil)
	_ invite.Notifier     = (*Hub)(nil)
)
