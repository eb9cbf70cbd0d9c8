package registration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) {
	if len(pw) < 8 {
		return "", errors.New("too short")
	}
	return "hashed:" + pw, nil
}

type fixture struct {
	svc     *Service
	users   *identity.MemoryStore
	invites *invite.Service
	ledger  *invite.MemoryStore
	bans    *moderation.Actions
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T) fixture {
	t.Helper()
	users := identity.NewMemoryStore()
	ledger := invite.NewMemoryStore()
	invites, err := invite.NewService(ledger, invite.WithLogger(quiet()))
	require.NoError(t, err)

	modStore := moderation.NewMemoryStore()
	gate, err := moderation.NewGate(modStore, moderation.WithGateLogger(quiet()))
	require.NoError(t, err)
	actions, err := moderation.NewActions(modStore, nil)
	require.NoError(t, err)

	svc, err := New(users, invites, gate, plainHasher{}, quiet())
	require.NoError(t, err)

	one := 1
	_, err = invites.Create(context.Background(), invite.CreateInput{Code: "WELCOME1", MaxUses: &one})
	require.NoError(t, err)

	return fixture{svc: svc, users: users, invites: invites, ledger: ledger, bans: actions}
}

func TestRegisterPassword_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.RegisterPassword(ctx, PasswordInput{
		Email:      "ada@example.com",
		Password:   "correct horse battery",
		Username:   "ada",
		InviteCode: "welcome1",
		IP:         "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada", res.Profile.Username)

	auth, err := f.users.GetUserAuthByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hashed:correct horse battery", auth.PasswordHash)

	inv, err := f.ledger.GetByCode(ctx, "WELCOME1")
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Uses)
	assert.Len(t, f.ledger.Redemptions("WELCOME1"), 1)
}

func TestRegister_InviteRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterPassword(ctx, PasswordInput{
		Email: "a@example.com", Password: "longenough", Username: "ada", InviteCode: "NOPE", IP: "203.0.113.7",
	})
	var rej InviteRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, invite.ReasonInvalid, rej.Reason)

	_, err = f.users.GetUserAuthByEmail(ctx, "a@example.com")
	assert.True(t, identity.IsNotFound(err))
}

func TestRegister_BlacklistedIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.bans.BlacklistIP(ctx, moderation.RestrictInput{Subject: "203.0.113.9", Reason: "spam", IssuedBy: "admin", Duration: time.Hour})
	require.NoError(t, err)

	_, err = f.svc.RegisterPassword(ctx, PasswordInput{
		Email: "a@example.com", Password: "longenough", Username: "ada", InviteCode: "WELCOME1", IP: "203.0.113.9",
	})
	var blocked BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "spam", blocked.Status.Reason)

	inv, err := f.ledger.GetByCode(ctx, "WELCOME1")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Uses)
}

func TestRegister_ProfileFailureDeletesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Occupy the username with an unrelated account.
	other, err := f.users.CreateAuthUser(ctx, identity.CreateAuthUserInput{DiscordID: strPtr("1")})
	require.NoError(t, err)
	_, err = f.users.CreateProfile(ctx, identity.CreateProfileInput{UserID: other.ID, Username: "ada"})
	require.NoError(t, err)

	_, err = f.svc.RegisterPassword(ctx, PasswordInput{
		Email: "b@example.com", Password: "longenough", Username: "ADA", InviteCode: "WELCOME1", IP: "203.0.113.7",
	})
	require.Error(t, err)
	assert.Equal(t, "username", identity.ConflictField(err))

	_, err = f.users.GetUserAuthByEmail(ctx, "b@example.com")
	assert.True(t, identity.IsNotFound(err), "orphaned identity left behind")

	inv, err := f.ledger.GetByCode(ctx, "WELCOME1")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Uses, "invite must not be spent")
}

// racingInvites validates fine but loses the redeem race.
type racingInvites struct{}

func (racingInvites) Validate(context.Context, string) (invite.Validation, error) {
	return invite.Validation{Valid: true}, nil
}

func (racingInvites) Redeem(context.Context, string, string) (invite.Redemption, error) {
	return invite.Redemption{}, invite.ErrExhausted
}

func TestRegister_RedeemFailureDeletesAccount(t *testing.T) {
	users := identity.NewMemoryStore()
	gate, err := moderation.NewGate(moderation.NewMemoryStore(), moderation.WithGateLogger(quiet()))
	require.NoError(t, err)
	svc, err := New(users, racingInvites{}, gate, plainHasher{}, quiet())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.RegisterDiscord(ctx, DiscordInput{DiscordID: "42", Username: "grace", InviteCode: "LAST", IP: "203.0.113.7"})
	var rej InviteRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, invite.ReasonExhausted, rej.Reason)

	_, err = users.GetUserByDiscordID(ctx, "42")
	assert.True(t, identity.IsNotFound(err))

	// The username is free again.
	u, err := users.CreateAuthUser(ctx, identity.CreateAuthUserInput{DiscordID: strPtr("43")})
	require.NoError(t, err)
	_, err = users.CreateProfile(ctx, identity.CreateProfileInput{UserID: u.ID, Username: "grace"})
	require.NoError(t, err)
}

func TestRegister_InputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterPassword(ctx, PasswordInput{Email: "nope", Password: "longenough", Username: "ada", InviteCode: "WELCOME1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.RegisterPassword(ctx, PasswordInput{Email: "a@example.com", Password: "longenough", Username: "x", InviteCode: "WELCOME1", IP: "203.0.113.7"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.RegisterPassword(ctx, PasswordInput{Email: "a@example.com", Password: "short", Username: "ada", InviteCode: "WELCOME1", IP: "203.0.113.7"})
	assert.Error(t, err)

	_, err = f.svc.RegisterDiscord(ctx, DiscordInput{Username: "ada", InviteCode: "WELCOME1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func strPtr(s string) *string { return &s }
