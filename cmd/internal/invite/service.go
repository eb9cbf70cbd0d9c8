package invite

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
)

// Notifier is told about invites after they are stored.
type Notifier interface {
	InviteCreated(inv Invite)
}

// CreateInput describes invite creation. An empty Code is generated;
// nil MaxUses means unlimited and a zero TTL means the code never expires.
type CreateInput struct {
	Code        string
	CreatedBy   *string
	MaxUses     *int
	TTL         time.Duration
	Description *string
}

// Service validates and redeems invite codes.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	log      *slog.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithNotifier sets the creation notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return ErrInvalidInput
		}
		s.log = log
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store: store,
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

// Create stores a new invite code.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return Invite{}, ErrInvalidInput
	}
	if in.TTL < 0 {
		return Invite{}, ErrInvalidInput
	}
	desc := trimPtr(in.Description)
	if desc != nil && len(*desc) > maxDescriptionLen {
		return Invite{}, ErrInvalidInput
	}

	now := s.now()
	inv := Invite{
		CreatedBy:   trimPtr(in.CreatedBy),
		MaxUses:     in.MaxUses,
		Description: desc,
		CreatedAt:   now,
	}
	if in.TTL > 0 {
		exp := now.Add(in.TTL)
		inv.ExpiresAt = &exp
	}

	explicit := strings.TrimSpace(in.Code) != ""
	attempts := 1
	if !explicit {
		attempts = 3
	}

	var err error
	for i := 0; i < attempts; i++ {
		if inv.Code, err = s.code(in.Code); err != nil {
			return Invite{}, err
		}
		if inv.ID, err = ids.NewULID(now); err != nil {
			return Invite{}, err
		}
		var out Invite
		out, err = s.store.Create(ctx, inv)
		if err == nil {
			s.log.Info("invite.create.ok", "invite_id", out.ID, "code", out.Code)
			if s.notifier != nil {
				s.notifier.InviteCreated(out)
			}
			return out, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			break
		}
	}
	return Invite{}, err
}

func (s *Service) code(requested string) (string, error) {
	if strings.TrimSpace(requested) != "" {
		code := NormalizeCode(requested)
		if code == "" {
			return "", ErrInvalidInput
		}
		return code, nil
	}
	return GenerateCode()
}

// Validate is a read-only check: exists, then not expired, then below max uses.
// Policy rejections come back as an invalid Validation, never as an error.
func (s *Service) Validate(ctx context.Context, code string) (Validation, error) {
	norm := NormalizeCode(code)
	if norm == "" {
		return Validation{Valid: false, Reason: ReasonInvalid}, nil
	}

	inv, err := s.store.GetByCode(ctx, norm)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Validation{Valid: false, Reason: ReasonInvalid}, nil
		}
		s.log.Error("invite.validate.fail", "err", err)
		return Validation{}, err
	}

	if err := inv.check(s.now()); err != nil {
		return Validation{Valid: false, Reason: Reason(err), Invite: &inv}, nil
	}
	return Validation{Valid: true, Invite: &inv}, nil
}

// Redeem consumes one use of code for userID.
// Losing a race for the last use returns ErrExhausted.
func (s *Service) Redeem(ctx context.Context, code, userID string) (Redemption, error) {
	norm := NormalizeCode(code)
	userID = strings.TrimSpace(userID)
	if norm == "" {
		return Redemption{}, ErrNotFound
	}
	if userID == "" {
		return Redemption{}, ErrInvalidInput
	}

	now := s.now()
	rid, err := ids.NewULID(now)
	if err != nil {
		return Redemption{}, err
	}

	red, err := s.store.Redeem(ctx, RedeemRecord{RedemptionID: rid, Code: norm, UserID: userID, Now: now})
	if err != nil {
		if IsRejection(err) {
			s.log.Info("invite.redeem.rejected", "code", norm, "user_id", userID, "reason", Reason(err))
		} else {
			s.log.Error("invite.redeem.fail", "code", norm, "user_id", userID, "err", err)
		}
		return Redemption{}, err
	}
	s.log.Info("invite.redeem.ok", "code", norm, "user_id", userID)
	return red, nil
}

// Release is the compensating action for Redeem.
func (s *Service) Release(ctx context.Context, code, userID string) error {
	norm := NormalizeCode(code)
	userID = strings.TrimSpace(userID)
	if norm == "" || userID == "" {
		return ErrInvalidInput
	}
	if err := s.store.Release(ctx, norm, userID); err != nil {
		s.log.Error("invite.release.fail", "code", norm, "user_id", userID, "err", err)
		return err
	}
	s.log.Info("invite.release.ok", "code", norm, "user_id", userID)
	return nil
}
