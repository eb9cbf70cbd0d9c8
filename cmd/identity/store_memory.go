package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
)

// MemoryStore is an in-process Store with the same uniqueness rules as the
// Postgres schema. It backs unit tests and database-less dev runs.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]UserAuth
	profiles map[string]Profile
	mfa      map[string]MFA
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]UserAuth),
		profiles: make(map[string]Profile),
		mfa:      make(map[string]MFA),
	}
}

func (s *MemoryStore) CreateAuthUser(ctx context.Context, in CreateAuthUserInput) (User, error) {
	const op = "identity.CreateAuthUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, emailNorm, err := normalizeCreateAuthUser(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if emailNorm != nil && u.Email != nil && NormalizeEmail(*u.Email) == *emailNorm {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		if in.DiscordID != nil && u.DiscordID != nil && *u.DiscordID == *in.DiscordID {
			return User{}, ConflictError{Op: op, Field: "discord_id"}
		}
	}

	u := User{ID: id, Email: in.Email, DiscordID: in.DiscordID, CreatedAt: in.Now}
	ua := UserAuth{User: u}
	if in.PasswordHash != nil {
		ua.PasswordHash = *in.PasswordHash
	}
	s.users[id] = ua
	return u, nil
}

func (s *MemoryStore) DeleteAuthUser(_ context.Context, userID string) error {
	const op = "identity.DeleteAuthUser"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	delete(s.users, userID)
	delete(s.profiles, userID)
	delete(s.mfa, userID)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return u.User, nil
}

func (s *MemoryStore) GetUserAuthByEmail(_ context.Context, email string) (UserAuth, error) {
	norm := NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email != nil && NormalizeEmail(*u.Email) == norm {
			return u, nil
		}
	}
	return UserAuth{}, NotFoundError{Op: "identity.GetUserAuthByEmail", Resource: "user"}
}

func (s *MemoryStore) GetUserByDiscordID(_ context.Context, discordID string) (User, error) {
	discordID = strings.TrimSpace(discordID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.DiscordID != nil && *u.DiscordID == discordID {
			return u.User, nil
		}
	}
	return User{}, NotFoundError{Op: "identity.GetUserByDiscordID", Resource: "user"}
}

func (s *MemoryStore) CreateProfile(ctx context.Context, in CreateProfileInput) (Profile, error) {
	const op = "identity.CreateProfile"

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	in, err := normalizeCreateProfile(op, in)
	if err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[in.UserID]; !ok {
		return Profile{}, NotFoundError{Op: op, Resource: "user"}
	}
	if _, ok := s.profiles[in.UserID]; ok {
		return Profile{}, ConflictError{Op: op, Field: "user"}
	}
	norm := NormalizeUsername(in.Username)
	for _, p := range s.profiles {
		if NormalizeUsername(p.Username) == norm {
			return Profile{}, ConflictError{Op: op, Field: "username"}
		}
	}

	p := Profile{UserID: in.UserID, Username: in.Username, Role: in.Role, CreatedAt: in.Now}
	s.profiles[in.UserID] = p
	return p, nil
}

func (s *MemoryStore) DeleteProfile(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[userID]; !ok {
		return NotFoundError{Op: "identity.DeleteProfile", Resource: "profile"}
	}
	delete(s.profiles, userID)
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, NotFoundError{Op: "identity.GetProfile", Resource: "profile"}
	}
	return p, nil
}

func (s *MemoryStore) SetRole(_ context.Context, userID string, role Role) error {
	const op = "identity.SetRole"
	if !role.Valid() {
		return invalid(op, "invalid role")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "profile"}
	}
	p.Role = role
	s.profiles[userID] = p
	return nil
}

func (s *MemoryStore) GetMFA(_ context.Context, userID string) (MFA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mfa[userID]
	if !ok {
		return MFA{}, NotFoundError{Op: "identity.GetMFA", Resource: "mfa"}
	}
	return m, nil
}

func (s *MemoryStore) SaveMFASecret(_ context.Context, userID, secret string, now time.Time) error {
	const op = "identity.SaveMFASecret"
	if strings.TrimSpace(secret) == "" {
		return invalid(op, "missing secret")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if m, ok := s.mfa[userID]; ok && m.Enabled() {
		return ConflictError{Op: op, Field: "mfa"}
	}
	s.mfa[userID] = MFA{UserID: userID, Secret: secret, CreatedAt: now}
	return nil
}

func (s *MemoryStore) EnableMFA(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mfa[userID]
	if !ok {
		return NotFoundError{Op: "identity.EnableMFA", Resource: "mfa"}
	}
	m.EnabledAt = &now
	s.mfa[userID] = m
	return nil
}

func (s *MemoryStore) AdvanceMFAStep(_ context.Context, userID string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mfa[userID]
	if !ok {
		return false, NotFoundError{Op: "identity.AdvanceMFAStep", Resource: "mfa"}
	}
	if step <= m.LastStep {
		return false, nil
	}
	m.LastStep = step
	s.mfa[userID] = m
	return true, nil
}

func (s *MemoryStore) DeleteMFA(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mfa[userID]; !ok {
		return NotFoundError{Op: "identity.DeleteMFA", Resource: "mfa"}
	}
	delete(s.mfa, userID)
	return nil
}
