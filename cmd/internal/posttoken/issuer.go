package posttoken

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/token"
)

const (
	nonceBytes = 16
	// DefaultTTL is how long an issued token stays redeemable.
	DefaultTTL = 10 * time.Minute
)

// Limiter is the subset of *ratelimit.Limiter the issuer needs.
type Limiter interface {
	AllowRule(ctx context.Context, key string, r ratelimit.Rule) (ratelimit.Result, error)
}

// Limits are the three layered issuance limiters.
type Limits struct {
	IP    ratelimit.Rule `mapstructure:"ip"`
	User  ratelimit.Rule `mapstructure:"user"`
	Burst ratelimit.Rule `mapstructure:"burst"`
}

// DefaultLimits allow steady posting and stop scripted farming.
func DefaultLimits() Limits {
	return Limits{
		IP:    ratelimit.Rule{Limit: 30, Window: time.Minute},
		User:  ratelimit.Rule{Limit: 10, Window: time.Minute},
		Burst: ratelimit.Rule{Limit: 3, Window: 5 * time.Second},
	}
}

// Issued is a freshly minted token.
type Issued struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer mints and redeems post tokens.
type Issuer struct {
	secret  []byte
	store   Store
	limiter Limiter
	limits  Limits
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer) error

// WithTTL sets the token lifetime.
func WithTTL(d time.Duration) Option {
	return func(i *Issuer) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		i.ttl = d
		return nil
	}
}

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(i *Issuer) error {
		i.limits = l
		return nil
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) error {
		if now == nil {
			return ErrInvalidInput
		}
		i.now = now
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Issuer) error {
		if log == nil {
			return ErrInvalidInput
		}
		i.log = log
		return nil
	}
}

// NewIssuer constructs an Issuer. limiter may be nil to disable issuance limits.
func NewIssuer(secret []byte, store Store, limiter Limiter, opts ...Option) (*Issuer, error) {
	if len(secret) < token.MinSecretBytes || store == nil {
		return nil, ErrInvalidInput
	}
	i := &Issuer{
		secret:  secret,
		store:   store,
		limiter: limiter,
		limits:  DefaultLimits(),
		ttl:     DefaultTTL,
		now:     func() time.Time { return time.Now().UTC() },
		log:     slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// Issue mints a token bound to userID and clientIP.
// A denial from any of the issuance limiters yields a RateLimitedError.
func (i *Issuer) Issue(ctx context.Context, userID, clientIP string) (Issued, error) {
	userID = strings.TrimSpace(userID)
	clientIP = canonicalIP(clientIP)
	if userID == "" || clientIP == "" {
		return Issued{}, ErrInvalidInput
	}

	if err := i.checkLimits(ctx, userID, clientIP); err != nil {
		return Issued{}, err
	}

	nonce, err := token.RandomHex(nonceBytes)
	if err != nil {
		return Issued{}, err
	}

	now := i.now()
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	sig := token.Sign(i.secret, userID, clientIP, ts, nonce)
	exp := now.Add(i.ttl)

	if err := i.store.Insert(ctx, Record{
		Nonce:     nonce,
		UserID:    userID,
		IP:        clientIP,
		CreatedAt: now,
		ExpiresAt: exp,
	}); err != nil {
		return Issued{}, err
	}

	return Issued{Token: ts + ":" + nonce + ":" + sig, ExpiresAt: exp}, nil
}

func (i *Issuer) checkLimits(ctx context.Context, userID, ip string) error {
	if i.limiter == nil {
		return nil
	}
	layers := []struct {
		scope string
		key   string
		rule  ratelimit.Rule
	}{
		{scope: "ip", key: ratelimit.Key("post_token_ip", ip), rule: i.limits.IP},
		{scope: "user", key: ratelimit.Key("post_token_user", userID), rule: i.limits.User},
		{scope: "burst", key: ratelimit.Key("post_token_burst", userID+"|"+ip), rule: i.limits.Burst},
	}
	for _, l := range layers {
		if l.rule.Limit <= 0 {
			continue
		}
		res, err := i.limiter.AllowRule(ctx, l.key, l.rule)
		if err != nil {
			return err
		}
		if !res.Allowed {
			i.log.Info("posttoken.issue.rate_limited", "scope", l.scope, "user_id", userID, "ip", ip)
			return RateLimitedError{Scope: l.scope, Result: res}
		}
	}
	return nil
}

// Verify redeems token for the calling user and address. nil means valid;
// the token cannot be redeemed again afterwards.
func (i *Issuer) Verify(ctx context.Context, raw, userID, clientIP string) error {
	userID = strings.TrimSpace(userID)
	clientIP = canonicalIP(clientIP)

	ts, nonce, sig, err := parse(raw)
	if err != nil {
		return err
	}
	if !token.Equal(sig, token.Sign(i.secret, userID, clientIP, ts, nonce)) {
		return ErrInvalidSignature
	}

	ms, _ := strconv.ParseInt(ts, 10, 64)
	now := i.now()
	if !now.Before(time.UnixMilli(ms).Add(i.ttl)) {
		return ErrExpired
	}

	return i.store.Consume(ctx, ConsumeInput{Nonce: nonce, UserID: userID, IP: clientIP, Now: now})
}

// Purge deletes nonces that expired before now.
func (i *Issuer) Purge(ctx context.Context) (int64, error) {
	return i.store.DeleteExpired(ctx, i.now())
}

func parse(raw string) (ts, nonce, sig string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return "", "", "", ErrMalformed
	}
	ts, nonce, sig = parts[0], parts[1], parts[2]

	if ms, perr := strconv.ParseInt(ts, 10, 64); perr != nil || ms <= 0 {
		return "", "", "", ErrMalformed
	}
	if len(nonce) != nonceBytes*2 || !isHex(nonce) {
		return "", "", "", ErrMalformed
	}
	if len(sig) != 64 || !isHex(sig) {
		return "", "", "", ErrMalformed
	}
	return ts, nonce, sig, nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func canonicalIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	return raw
}
