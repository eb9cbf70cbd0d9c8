package identity

import (
	"context"
	"strings"
	"time"
)

// Role is a profile's privilege level.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// CanModerate reports whether r may ban users and manage invites.
func (r Role) CanModerate() bool { return r == RoleModerator || r == RoleAdmin }

// User is an authentication identity.
type User struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email,omitempty"`
	DiscordID *string   `json:"discord_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAuth is a User plus its password hash, for login only.
type UserAuth struct {
	User
	PasswordHash string
}

// Profile is the forum-facing half of an account.
type Profile struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Coins     int64     `json:"coins"`
	CreatedAt time.Time `json:"created_at"`
}

// MFA is a user's TOTP enrollment. EnabledAt stays nil until the first code
// is confirmed; LastStep is the newest time step already accepted.
type MFA struct {
	UserID    string
	Secret    string
	EnabledAt *time.Time
	LastStep  int64
	CreatedAt time.Time
}

// Enabled reports whether logins must present a code.
func (m MFA) Enabled() bool { return m.EnabledAt != nil }

// CreateAuthUserInput describes a new identity. At least one of
// (Email and PasswordHash) or DiscordID must be set.
type CreateAuthUserInput struct {
	Email        *string
	PasswordHash *string
	DiscordID    *string
	Now          time.Time
}

// CreateProfileInput describes the profile created after an identity.
type CreateProfileInput struct {
	UserID   string
	Username string
	Role     Role
	Now      time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	CreateAuthUser(ctx context.Context, in CreateAuthUserInput) (User, error)
	// DeleteAuthUser removes the identity and, by cascade, its profile.
	DeleteAuthUser(ctx context.Context, userID string) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	GetUserByDiscordID(ctx context.Context, discordID string) (User, error)

	CreateProfile(ctx context.Context, in CreateProfileInput) (Profile, error)
	DeleteProfile(ctx context.Context, userID string) error
	GetProfile(ctx context.Context, userID string) (Profile, error)
	SetRole(ctx context.Context, userID string, role Role) error

	GetMFA(ctx context.Context, userID string) (MFA, error)
	// SaveMFASecret starts or restarts a pending enrollment. It fails with a
	// ConflictError on "mfa" once the enrollment is enabled.
	SaveMFASecret(ctx context.Context, userID, secret string, now time.Time) error
	EnableMFA(ctx context.Context, userID string, now time.Time) error
	// AdvanceMFAStep records step as used and reports false when it is not
	// newer than the last accepted one.
	AdvanceMFAStep(ctx context.Context, userID string, step int64) (bool, error)
	DeleteMFA(ctx context.Context, userID string) error
}

func normalizeCreateAuthUser(op string, in CreateAuthUserInput) (CreateAuthUserInput, *string, error) {
	in.Email = trimPtr(in.Email)
	in.PasswordHash = trimPtr(in.PasswordHash)
	in.DiscordID = trimPtr(in.DiscordID)

	if in.PasswordHash != nil && in.Email == nil {
		return in, nil, invalid(op, "password requires an email")
	}
	if in.PasswordHash == nil && in.DiscordID == nil {
		return in, nil, invalid(op, "password or discord id is required")
	}
	var emailNorm *string
	if in.Email != nil {
		if len(*in.Email) > maxEmailLen {
			return in, nil, invalid(op, "email too long")
		}
		n := NormalizeEmail(*in.Email)
		emailNorm = &n
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, emailNorm, nil
}

func normalizeCreateProfile(op string, in CreateProfileInput) (CreateProfileInput, error) {
	if in.UserID == "" {
		return in, invalid(op, "missing user_id")
	}
	if !ValidUsername(in.Username) {
		return in, invalid(op, "invalid username")
	}
	in.Username = strings.TrimSpace(in.Username)
	if in.Role == "" {
		in.Role = RoleMember
	}
	if !in.Role.Valid() {
		return in, invalid(op, "invalid role")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
