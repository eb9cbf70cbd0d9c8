package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func strp(s string) *string { return &s }

// storeContract runs the same behaviour checks against any Store.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	u, err := s.CreateAuthUser(ctx, CreateAuthUserInput{
		Email:        strp("Ada@Example.com"),
		PasswordHash: strp("$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if len(u.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}

	_, err = s.CreateAuthUser(ctx, CreateAuthUserInput{Email: strp("ada@example.COM"), PasswordHash: strp("x")})
	if ConflictField(err) != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}

	auth, err := s.GetUserAuthByEmail(ctx, " ADA@example.com ")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if auth.ID != u.ID || auth.PasswordHash == "" {
		t.Fatalf("unexpected auth row: %+v", auth)
	}

	d, err := s.CreateAuthUser(ctx, CreateAuthUserInput{DiscordID: strp("80351110224678912")})
	if err != nil {
		t.Fatalf("create discord user: %v", err)
	}
	_, err = s.CreateAuthUser(ctx, CreateAuthUserInput{DiscordID: strp("80351110224678912")})
	if ConflictField(err) != "discord_id" {
		t.Fatalf("expected discord conflict, got %v", err)
	}
	got, err := s.GetUserByDiscordID(ctx, "80351110224678912")
	if err != nil || got.ID != d.ID {
		t.Fatalf("get by discord: %v %+v", err, got)
	}

	p, err := s.CreateProfile(ctx, CreateProfileInput{UserID: u.ID, Username: "Ada"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if p.Role != RoleMember || p.Coins != 0 {
		t.Fatalf("unexpected profile defaults: %+v", p)
	}
	_, err = s.CreateProfile(ctx, CreateProfileInput{UserID: d.ID, Username: "ada"})
	if ConflictField(err) != "username" {
		t.Fatalf("expected username conflict, got %v", err)
	}
	_, err = s.CreateProfile(ctx, CreateProfileInput{UserID: "01JZZZZZZZZZZZZZZZZZZZZZZZ", Username: "ghost"})
	if !IsNotFound(err) {
		t.Fatalf("expected missing user, got %v", err)
	}

	if err := s.SetRole(ctx, u.ID, RoleAdmin); err != nil {
		t.Fatalf("set role: %v", err)
	}
	p, err = s.GetProfile(ctx, u.ID)
	if err != nil || p.Role != RoleAdmin {
		t.Fatalf("get profile: %v %+v", err, p)
	}

	mfaContract(t, s, u.ID)

	if err := s.DeleteAuthUser(ctx, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := s.GetMFA(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("mfa should cascade, got %v", err)
	}
	if _, err := s.GetProfile(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("profile should cascade, got %v", err)
	}
	if err := s.DeleteAuthUser(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

// mfaContract leaves userID with an enabled enrollment.
func mfaContract(t *testing.T, s Store, userID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if _, err := s.GetMFA(ctx, userID); !IsNotFound(err) {
		t.Fatalf("expected no enrollment, got %v", err)
	}
	if err := s.SaveMFASecret(ctx, "01JZZZZZZZZZZZZZZZZZZZZZZZ", "SECRET", now); !IsNotFound(err) {
		t.Fatalf("expected missing user, got %v", err)
	}
	if err := s.SaveMFASecret(ctx, userID, "FIRST", now); err != nil {
		t.Fatalf("save secret: %v", err)
	}
	// A pending enrollment may be restarted.
	if err := s.SaveMFASecret(ctx, userID, "SECOND", now); err != nil {
		t.Fatalf("restart enrollment: %v", err)
	}
	m, err := s.GetMFA(ctx, userID)
	if err != nil || m.Secret != "SECOND" || m.Enabled() {
		t.Fatalf("get pending mfa: %v %+v", err, m)
	}

	if ok, err := s.AdvanceMFAStep(ctx, userID, 100); err != nil || !ok {
		t.Fatalf("advance step: %v %v", ok, err)
	}
	if ok, err := s.AdvanceMFAStep(ctx, userID, 100); err != nil || ok {
		t.Fatalf("replayed step must be refused: %v %v", ok, err)
	}
	if err := s.EnableMFA(ctx, userID, now); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := s.SaveMFASecret(ctx, userID, "THIRD", now); ConflictField(err) != "mfa" {
		t.Fatalf("expected mfa conflict, got %v", err)
	}
	m, err = s.GetMFA(ctx, userID)
	if err != nil || !m.Enabled() || m.Secret != "SECOND" || m.LastStep != 100 {
		t.Fatalf("get enabled mfa: %v %+v", err, m)
	}

	if err := s.DeleteMFA(ctx, userID); err != nil {
		t.Fatalf("delete mfa: %v", err)
	}
	if err := s.DeleteMFA(ctx, userID); !IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := s.SaveMFASecret(ctx, userID, "FOURTH", now); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	if err := s.EnableMFA(ctx, userID, now); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestCreateAuthUser_Validation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateAuthUserInput
	}{
		{name: "empty", in: CreateAuthUserInput{}},
		{name: "password without email", in: CreateAuthUserInput{PasswordHash: strp("x")}},
		{name: "email only", in: CreateAuthUserInput{Email: strp("a@b.c")}},
		{name: "blank discord", in: CreateAuthUserInput{DiscordID: strp("   ")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateAuthUser(ctx, tc.in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestValidUsername(t *testing.T) {
	good := []string{"ada", "Ada_Lovelace", "x.y-z", "abcdefghijabcdefghijabcdefghij12"}
	bad := []string{"", "ab", "has space", "emoji😀", "abcdefghijabcdefghijabcdefghij123"}
	for _, s := range good {
		if !ValidUsername(s) {
			t.Fatalf("expected %q valid", s)
		}
	}
	for _, s := range bad {
		if ValidUsername(s) {
			t.Fatalf("expected %q invalid", s)
		}
	}
}

func TestRole(t *testing.T) {
	if !RoleAdmin.CanModerate() || !RoleModerator.CanModerate() || RoleMember.CanModerate() {
		t.Fatalf("unexpected moderation rights")
	}
	if Role("owner").Valid() {
		t.Fatalf("unknown role must be invalid")
	}
}
