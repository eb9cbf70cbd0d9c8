// Package registration creates invite-gated ByteHack accounts.
//
// The steps run in a fixed order: validate invite, check the address
// against the blacklist, create the auth identity, create the profile,
// redeem the invite. A failure after the identity exists removes what was
// already written, so no identity is ever left without a profile and no
// invite use is spent on an account that does not exist.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/password"
)

var ErrInvalidInput = errors.New("registration: invalid input")

// InviteRejectedError carries the ledger's user-facing reason.
type InviteRejectedError struct {
	Reason string
}

func (e InviteRejectedError) Error() string { return "registration: " + e.Reason }

// BlockedError is returned when the registering address is blacklisted.
type BlockedError struct {
	Status moderation.Status
}

func (e BlockedError) Error() string { return "registration: address blacklisted" }

// Invites is the ledger subset registration needs.
type Invites interface {
	Validate(ctx context.Context, code string) (invite.Validation, error)
	Redeem(ctx context.Context, code, userID string) (invite.Redemption, error)
}

// IPGate is the blacklist subset registration needs.
type IPGate interface {
	CheckIP(ctx context.Context, ip string) (moderation.Status, error)
}

// Hasher turns a plaintext password into a stored hash.
type Hasher interface {
	Hash(password string) (string, error)
}

// PasswordInput registers an email/password account.
type PasswordInput struct {
	Email      string
	Password   string
	Username   string
	InviteCode string
	IP         string
}

// DiscordInput registers an account for a Discord identity seen for the first time.
type DiscordInput struct {
	DiscordID  string
	Email      string
	Username   string
	InviteCode string
	IP         string
}

// Result is the created account.
type Result struct {
	User    identity.User
	Profile identity.Profile
}

// Service runs registrations.
type Service struct {
	users   identity.Store
	invites Invites
	gate    IPGate
	hasher  Hasher
	log     *slog.Logger
}

// New constructs a Service. hasher defaults to password.DefaultConfig().
func New(users identity.Store, invites Invites, gate IPGate, hasher Hasher, log *slog.Logger) (*Service, error) {
	if users == nil || invites == nil || gate == nil {
		return nil, ErrInvalidInput
	}
	if hasher == nil {
		hasher = password.DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{users: users, invites: invites, gate: gate, hasher: hasher, log: log}, nil
}

// RegisterPassword creates an email/password account.
func (s *Service) RegisterPassword(ctx context.Context, in PasswordInput) (Result, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Result{}, ErrInvalidInput
	}
	if err := s.precheck(ctx, in.InviteCode, in.IP); err != nil {
		return Result{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Result{}, err
	}

	return s.create(ctx, identity.CreateAuthUserInput{Email: &email, PasswordHash: &hash}, in.Username, in.InviteCode)
}

// RegisterDiscord creates an account bound to a Discord id.
func (s *Service) RegisterDiscord(ctx context.Context, in DiscordInput) (Result, error) {
	discordID := strings.TrimSpace(in.DiscordID)
	if discordID == "" {
		return Result{}, ErrInvalidInput
	}
	if err := s.precheck(ctx, in.InviteCode, in.IP); err != nil {
		return Result{}, err
	}

	auth := identity.CreateAuthUserInput{DiscordID: &discordID}
	if e := strings.TrimSpace(in.Email); e != "" {
		auth.Email = &e
	}
	return s.create(ctx, auth, in.Username, in.InviteCode)
}

func (s *Service) precheck(ctx context.Context, code, ip string) error {
	v, err := s.invites.Validate(ctx, code)
	if err != nil {
		return err
	}
	if !v.Valid {
		return InviteRejectedError{Reason: v.Reason}
	}

	st, err := s.gate.CheckIP(ctx, ip)
	if err != nil {
		return err
	}
	if st.Banned {
		s.log.Info("registration.blocked", "ip", ip)
		return BlockedError{Status: st}
	}
	return nil
}

func (s *Service) create(ctx context.Context, auth identity.CreateAuthUserInput, username, code string) (Result, error) {
	if !identity.ValidUsername(username) {
		return Result{}, ErrInvalidInput
	}

	user, err := s.users.CreateAuthUser(ctx, auth)
	if err != nil {
		return Result{}, err
	}

	profile, err := s.users.CreateProfile(ctx, identity.CreateProfileInput{UserID: user.ID, Username: username})
	if err != nil {
		s.log.Warn("registration.profile.fail", "user_id", user.ID, "err", err)
		s.rollback(ctx, user.ID, false)
		return Result{}, err
	}

	if _, err := s.invites.Redeem(ctx, code, user.ID); err != nil {
		s.log.Warn("registration.redeem.fail", "user_id", user.ID, "err", err)
		s.rollback(ctx, user.ID, true)
		if reason := invite.Reason(err); reason != "" {
			return Result{}, InviteRejectedError{Reason: reason}
		}
		return Result{}, err
	}

	s.log.Info("registration.ok", "user_id", user.ID, "username", profile.Username)
	return Result{User: user, Profile: profile}, nil
}

// rollback removes a half-created account, even after ctx is cancelled.
func (s *Service) rollback(ctx context.Context, userID string, withProfile bool) {
	ctx = context.WithoutCancel(ctx)
	if withProfile {
		if err := s.users.DeleteProfile(ctx, userID); err != nil && !identity.IsNotFound(err) {
			s.log.Error("registration.rollback.profile.fail", "user_id", userID, "err", err)
		}
	}
	if err := s.users.DeleteAuthUser(ctx, userID); err != nil && !identity.IsNotFound(err) {
		s.log.Error("registration.rollback.user.fail", "user_id", userID, "err", err)
	}
}
