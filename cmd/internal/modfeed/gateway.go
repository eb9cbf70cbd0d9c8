package modfeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
)

const (
	Subprotocol = "bytehack.modfeed.v1"

	defaultSendQueue = 64
	minSendQueue     = 8
	maxFrameBytes    = 4 << 10
	maxPingFailures  = 3
	closeGrace       = time.Second
)

// ErrForbidden is returned by an Authorizer for authenticated non-staff callers.
var ErrForbidden = errors.New("modfeed: forbidden")

// ErrUnauthenticated is returned by an Authorizer when no valid session is present.
var ErrUnauthenticated = errors.New("modfeed: unauthenticated")

// Authorizer resolves the staff user behind an upgrade request.
type Authorizer interface {
	AuthorizeFeed(r *http.Request) (userID string, err error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(r *http.Request) (string, error)

func (f AuthorizerFunc) AuthorizeFeed(r *http.Request) (string, error) { return f(r) }

// Config tunes the gateway.
type Config struct {
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	OriginRequired    bool          `mapstructure:"origin_required"`
	SendQueue         int           `mapstructure:"send_queue"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadIdleTimeout   time.Duration `mapstructure:"read_idle_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	RateEvents        int           `mapstructure:"rate_events"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
}

// DefaultConfig allows localhost origins only.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired:    true,
		SendQueue:         defaultSendQueue,
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		RateEvents:        20,
		RateWindow:        10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendQueue < minSendQueue {
		c.SendQueue = max(d.SendQueue, minSendQueue)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

// Gateway upgrades staff requests and keeps their feed connection alive.
type Gateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authorizer
	cfg  Config

	originPatterns []string
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, auth Authorizer, cfg Config) (*Gateway, error) {
	if hub == nil {
		return nil, errors.New("modfeed: hub is required")
	}
	if auth == nil {
		return nil, errors.New("modfeed: authorizer is required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := enforceOrigin(r, g.cfg.AllowedOrigins, g.cfg.OriginRequired); err != nil {
		g.log.Info("modfeed.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID, err := g.auth.AuthorizeFeed(r)
	switch {
	case errors.Is(err, ErrForbidden):
		g.log.Info("modfeed.reject.role", "user_id", userID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("modfeed.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("modfeed.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("modfeed.session.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}
	g.serve(r.Context(), conn, NewClient(userID, sessionID, g.cfg.SendQueue))
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, client *Client) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var once sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		once.Do(func() {
			g.hub.Leave(client.SessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.hub.Join(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("modfeed.write.fail", "session_id", client.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err == nil {
					failures = 0
					continue
				}
				failures++
				g.log.Info("modfeed.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
			}
		}
	}()

	rl := newFrameLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("modfeed.read.fail", "session_id", client.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}
		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		var reply Envelope
		switch env.Type {
		case TypeHello:
			reply, err = NewEnvelope(TypeHelloAck, HelloAckPayload{SessionID: client.SessionID, UserID: client.UserID}, now)
		case TypePing:
			reply, err = NewEnvelope(TypePong, struct{}{}, now)
		}
		if err != nil {
			g.log.Error("modfeed.envelope.fail", "type", env.Type, "err", err)
			continue readLoop
		}
		if !enqueue(ctx, client, reply) {
			g.log.Info("modfeed.reply.drop", "session_id", client.SessionID, "type", reply.Type)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := NewEnvelope(TypeError, ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err != nil {
		return
	}
	_ = enqueue(ctx, client, env)
}

func enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad *badJSONError
	switch {
	case errors.As(err, &bad):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}
	return readErrUnknown
}

// frameLimiter is a per-connection sliding window over client frames.
type frameLimiter struct {
	events []time.Time
	limit  int
	window time.Duration
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	return &frameLimiter{events: make([]time.Time, 0, limit), limit: limit, window: window}
}

func (l *frameLimiter) Allow(now time.Time) bool {
	cut := now.Add(-l.window)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	l.events = kept
	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
