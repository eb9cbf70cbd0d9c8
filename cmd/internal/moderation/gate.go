package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FailMode decides what a Gate answers when the Store errors.
type FailMode string

const (
	// FailOpen treats an unanswerable check as "not banned".
	FailOpen FailMode = "open"
	// FailClosed surfaces ErrUnavailable so callers can deny with 503.
	FailClosed FailMode = "closed"
)

// ParseFailMode accepts "open" or "closed" (case-insensitive); empty means open.
func ParseFailMode(s string) (FailMode, error) {
	switch FailMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("%w: fail mode %q", ErrInvalidInput, s)
	}
}

// Gate answers whether a user or IP is currently restricted.
type Gate struct {
	store    Store
	log      *slog.Logger
	now      func() time.Time
	failMode FailMode
	checks   *prometheus.CounterVec
}

// GateOption configures a Gate.
type GateOption func(*Gate) error

// WithFailMode sets the backend-failure policy (default FailOpen).
func WithFailMode(m FailMode) GateOption {
	return func(g *Gate) error {
		if m != FailOpen && m != FailClosed {
			return ErrInvalidInput
		}
		g.failMode = m
		return nil
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(log *slog.Logger) GateOption {
	return func(g *Gate) error {
		if log == nil {
			return ErrInvalidInput
		}
		g.log = log
		return nil
	}
}

// WithGateClock overrides time.Now (tests).
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) error {
		if now == nil {
			return ErrInvalidInput
		}
		g.now = now
		return nil
	}
}

// WithRegisterer registers a check counter on reg. A nil reg leaves the
// gate without metrics.
func WithRegisterer(reg prometheus.Registerer) GateOption {
	return func(g *Gate) error {
		if reg == nil {
			return nil
		}
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bytehack",
			Subsystem: "moderation",
			Name:      "checks_total",
			Help:      "Ban gate checks by kind and outcome.",
		}, []string{"kind", "outcome"})
		if err := reg.Register(c); err != nil {
			return err
		}
		g.checks = c
		return nil
	}
}

// NewGate constructs a Gate over store.
func NewGate(store Store, opts ...GateOption) (*Gate, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	g := &Gate{
		store:    store,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		failMode: FailOpen,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// FailMode reports the configured backend-failure policy.
func (g *Gate) FailMode() FailMode { return g.failMode }

// CheckUser resolves the ban status for userID.
func (g *Gate) CheckUser(ctx context.Context, userID string) (Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Status{}, nil
	}
	entries, err := g.store.ActiveUserBans(ctx, userID)
	return g.resolve(KindUser, userID, entries, err)
}

// CheckIP resolves the blacklist status for ip.
func (g *Gate) CheckIP(ctx context.Context, ip string) (Status, error) {
	ip = NormalizeIP(ip)
	if ip == "" {
		return Status{}, nil
	}
	entries, err := g.store.ActiveIPEntries(ctx, ip)
	return g.resolve(KindIP, ip, entries, err)
}

// Check resolves the user ban first and only falls through to the IP
// blacklist when the user is clear.
func (g *Gate) Check(ctx context.Context, userID, ip string) (Status, error) {
	st, err := g.CheckUser(ctx, userID)
	if err != nil || st.Banned {
		return st, err
	}
	return g.CheckIP(ctx, ip)
}

func (g *Gate) resolve(kind Kind, subject string, entries []Entry, err error) (Status, error) {
	if err != nil {
		g.log.Warn("moderation.check.fail", "kind", kind, "subject", subject, "fail_mode", g.failMode, "err", err)
		g.observe(kind, "error")
		if g.failMode == FailClosed {
			return Status{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return Status{}, nil
	}

	e, ok := strongest(entries, g.now())
	if !ok {
		g.observe(kind, "clear")
		return Status{}, nil
	}
	g.observe(kind, "banned")
	return statusOf(e), nil
}

func (g *Gate) observe(kind Kind, outcome string) {
	if g.checks == nil {
		return
	}
	g.checks.WithLabelValues(string(kind), outcome).Inc()
}
