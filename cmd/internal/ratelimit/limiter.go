package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, never negative.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Rule bundles the parameters for one limited action.
type Rule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Limiter answers "is this action allowed now" against a Store.
type Limiter struct {
	store   Store
	log     *slog.Logger
	now     func() time.Time
	metrics *Metrics
}

// Option configures a Limiter.
type Option func(*Limiter) error

// WithLogger sets the logger used for fail-open reports.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) error {
		if log == nil {
			return ErrInvalidInput
		}
		l.log = log
		return nil
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) error {
		if now == nil {
			return ErrInvalidInput
		}
		l.now = now
		return nil
	}
}

// WithMetrics attaches decision counters.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) error {
		l.metrics = m
		return nil
	}
}

// New constructs a Limiter over store.
func New(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	l := &Limiter{
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Key joins an action and an identity into a bucket key ("action:identity").
func Key(action, identity string) string {
	return strings.TrimSpace(action) + ":" + strings.TrimSpace(identity)
}

// AllowRule is Allow with cost 1.
func (l *Limiter) AllowRule(ctx context.Context, key string, r Rule) (Result, error) {
	return l.Allow(ctx, key, r.Limit, r.Window, 1)
}

// Allow consumes cost tokens from the bucket for key.
//
// An absent bucket or one whose window has ended (now >= WindowEnd) starts a
// fresh window of length window. Within a window the request is denied once
// count+cost would exceed limit. The only returned error is ErrInvalidInput.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration, cost int) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" || limit <= 0 || window <= 0 || cost <= 0 {
		return Result{}, ErrInvalidInput
	}

	now := l.now()
	action := actionOf(key)

	b, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		b = Bucket{}
	case err != nil:
		l.log.Warn("ratelimit.store.get.fail", "key", key, "err", err)
		l.metrics.observe(action, outcomeFailOpen)
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: max(limit-cost, 0),
			ResetAt:   now.Add(window),
		}, nil
	}

	if b.Key == "" || !now.Before(b.WindowEnd) {
		b = Bucket{Key: key, Count: 0, WindowEnd: now.Add(window), LastRefill: now}
	}

	if b.Count+cost > limit {
		l.metrics.observe(action, outcomeDenied)
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: b.WindowEnd}, nil
	}

	b.Count += cost
	if err := l.store.Put(ctx, b); err != nil {
		l.log.Warn("ratelimit.store.put.fail", "key", key, "err", err)
		l.metrics.observe(action, outcomeFailOpen)
	} else {
		l.metrics.observe(action, outcomeAllowed)
	}

	return Result{Allowed: true, Limit: limit, Remaining: limit - b.Count, ResetAt: b.WindowEnd}, nil
}

// Purge removes buckets whose window ended before the given time.
func (l *Limiter) Purge(ctx context.Context, before time.Time) (int64, error) {
	return l.store.DeleteExpired(ctx, before)
}

// actionOf keeps metric label cardinality bounded to the action prefix.
func actionOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
