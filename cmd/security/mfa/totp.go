package mfa

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
)

const (
	period = 30
	digits = otp.DigitsSix
)

// Store is the identity subset that persists enrollments.
type Store interface {
	GetMFA(ctx context.Context, userID string) (identity.MFA, error)
	SaveMFASecret(ctx context.Context, userID, secret string, now time.Time) error
	EnableMFA(ctx context.Context, userID string, now time.Time) error
	AdvanceMFAStep(ctx context.Context, userID string, step int64) (bool, error)
	DeleteMFA(ctx context.Context, userID string) error
}

// Config controls code generation and the accepted clock drift.
type Config struct {
	// Issuer is shown next to the account in authenticator apps.
	Issuer string `mapstructure:"issuer"`
	// Skew is how many 30s steps either side of now are accepted.
	Skew uint `mapstructure:"skew"`
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{Issuer: "ByteHack", Skew: 1}
}

// Validate checks the config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" || c.Skew > 4 {
		return ErrInvalidInput
	}
	return nil
}

// Enrollment is what the member scans into an authenticator app.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// Service enrolls members and checks their codes.
type Service struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return ErrInvalidInput
		}
		s.log = log
		return nil
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// New constructs a Service.
func New(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Setup issues a fresh secret for userID. A pending enrollment is replaced;
// an enabled one must be disabled first.
func (s *Service) Setup(ctx context.Context, userID, account string) (Enrollment, error) {
	userID = strings.TrimSpace(userID)
	account = strings.TrimSpace(account)
	if userID == "" || account == "" {
		return Enrollment{}, ErrInvalidInput
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: account,
		Period:      period,
		Digits:      digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, err
	}
	if err := s.store.SaveMFASecret(ctx, userID, key.Secret(), s.now()); err != nil {
		if identity.IsConflict(err) {
			return Enrollment{}, ErrAlreadyEnabled
		}
		return Enrollment{}, err
	}
	s.log.Info("mfa.setup.ok", "user_id", userID)
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Enable confirms a pending enrollment with its first code.
func (s *Service) Enable(ctx context.Context, userID, code string) error {
	m, err := s.enrollment(ctx, userID)
	if err != nil {
		return err
	}
	if m.Enabled() {
		return ErrAlreadyEnabled
	}
	if err := s.check(ctx, m, code); err != nil {
		return err
	}
	if err := s.store.EnableMFA(ctx, m.UserID, s.now()); err != nil {
		return err
	}
	s.log.Info("mfa.enable.ok", "user_id", m.UserID)
	return nil
}

// Disable removes an enabled enrollment; it takes a current code.
func (s *Service) Disable(ctx context.Context, userID, code string) error {
	m, err := s.enrollment(ctx, userID)
	if err != nil {
		return err
	}
	if !m.Enabled() {
		return ErrNotEnrolled
	}
	if err := s.check(ctx, m, code); err != nil {
		return err
	}
	if err := s.store.DeleteMFA(ctx, m.UserID); err != nil {
		return err
	}
	s.log.Info("mfa.disable.ok", "user_id", m.UserID)
	return nil
}

// Enabled reports whether userID must present a code to log in.
func (s *Service) Enabled(ctx context.Context, userID string) (bool, error) {
	m, err := s.enrollment(ctx, userID)
	switch {
	case errors.Is(err, ErrNotEnrolled):
		return false, nil
	case err != nil:
		return false, err
	}
	return m.Enabled(), nil
}

// Verify checks a login code against an enabled enrollment.
func (s *Service) Verify(ctx context.Context, userID, code string) error {
	m, err := s.enrollment(ctx, userID)
	if err != nil {
		return err
	}
	if !m.Enabled() {
		return ErrNotEnrolled
	}
	return s.check(ctx, m, code)
}

func (s *Service) enrollment(ctx context.Context, userID string) (identity.MFA, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return identity.MFA{}, ErrInvalidInput
	}
	m, err := s.store.GetMFA(ctx, userID)
	if identity.IsNotFound(err) {
		return identity.MFA{}, ErrNotEnrolled
	}
	return m, err
}

// check matches code within the skew window and burns its time step.
func (s *Service) check(ctx context.Context, m identity.MFA, code string) error {
	code = strings.TrimSpace(code)
	if len(code) != digits.Length() {
		return ErrInvalidCode
	}
	step, ok := s.match(m.Secret, code, s.now())
	if !ok {
		s.log.Info("mfa.code.rejected", "user_id", m.UserID, "reason", "mismatch")
		return ErrInvalidCode
	}
	fresh, err := s.store.AdvanceMFAStep(ctx, m.UserID, step)
	if err != nil {
		return err
	}
	if !fresh {
		s.log.Info("mfa.code.rejected", "user_id", m.UserID, "reason", "replay")
		return ErrInvalidCode
	}
	return nil
}

func (s *Service) match(secret, code string, now time.Time) (int64, bool) {
	opts := totp.ValidateOpts{Period: period, Digits: digits, Algorithm: otp.AlgorithmSHA1}
	cur := now.Unix() / period
	skew := int64(s.cfg.Skew) // #nosec G115 -- Validate caps Skew at 4.
	for d := -skew; d <= skew; d++ {
		step := cur + d
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}
