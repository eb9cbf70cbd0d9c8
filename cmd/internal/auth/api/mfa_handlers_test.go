package authapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/mfa"
)

// withMFA installs an MFA service whose clock the test moves by hand.
func (hs *harness) withMFA(now *time.Time) {
	hs.t.Helper()
	svc, err := mfa.New(hs.users, mfa.DefaultConfig(),
		mfa.WithClock(func() time.Time { return *now }),
		mfa.WithLogger(quietLogger()),
	)
	require.NoError(hs.t, err)
	hs.h.deps.MFA = svc
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	c, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return c
}

func TestMFA_EnrollAndLogin(t *testing.T) {
	hs := newHarness(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	hs.withMFA(&now)
	_, tok := hs.seedUser("user@example.com", "userone", identity.RoleMember)

	w := hs.do(http.MethodGet, "/me/mfa", nil, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[mfaStatusResponse](t, w).Enabled)

	w = hs.do(http.MethodPost, "/me/mfa/setup", nil, bearer(tok))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	enr := decode[mfa.Enrollment](t, w)
	require.NotEmpty(t, enr.Secret)
	assert.Contains(t, enr.URL, "userone")

	// Pending enrollments do not gate logins.
	login := map[string]string{"email": "user@example.com", "password": testPassword}
	require.Equal(t, http.StatusOK, hs.do(http.MethodPost, "/auth/login", login).Code)

	w = hs.do(http.MethodPost, "/me/mfa/enable", map[string]string{"code": "12345"}, bearer(tok))
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = hs.do(http.MethodPost, "/me/mfa/enable", map[string]string{"code": totpCode(t, enr.Secret, now)}, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[mfaStatusResponse](t, w).Enabled)

	w = hs.do(http.MethodPost, "/me/mfa/setup", nil, bearer(tok))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "mfa_already_enabled", errCode(t, w))

	w = hs.do(http.MethodPost, "/auth/login", login)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "mfa_required", errCode(t, w))

	// The code that enabled MFA has been spent.
	login["totp_code"] = totpCode(t, enr.Secret, now)
	w = hs.do(http.MethodPost, "/auth/login", login)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_mfa_code", errCode(t, w))

	now = now.Add(30 * time.Second)
	login["totp_code"] = totpCode(t, enr.Secret, now)
	w = hs.do(http.MethodPost, "/auth/login", login)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode[authResponse](t, w).Session.AccessToken)

	now = now.Add(30 * time.Second)
	w = hs.do(http.MethodPost, "/me/mfa/disable", map[string]string{"code": totpCode(t, enr.Secret, now)}, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[mfaStatusResponse](t, w).Enabled)

	delete(login, "totp_code")
	require.Equal(t, http.StatusOK, hs.do(http.MethodPost, "/auth/login", login).Code)
}

func TestMFA_LoginCodesRateLimited(t *testing.T) {
	hs := newHarness(t, func(c *Config) { c.MFARule = ratelimit.Rule{Limit: 2, Window: time.Minute} })
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	hs.withMFA(&now)
	_, tok := hs.seedUser("user@example.com", "userone", identity.RoleMember)

	enr := decode[mfa.Enrollment](t, hs.do(http.MethodPost, "/me/mfa/setup", nil, bearer(tok)))
	w := hs.do(http.MethodPost, "/me/mfa/enable", map[string]string{"code": totpCode(t, enr.Secret, now)}, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Enabling used one attempt from the same per-user bucket.
	login := map[string]string{"email": "user@example.com", "password": testPassword, "totp_code": "000000"}
	w = hs.do(http.MethodPost, "/auth/login", login)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = hs.do(http.MethodPost, "/auth/login", login)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errCode(t, w))
}

func TestMFA_Unavailable(t *testing.T) {
	hs := newHarness(t)
	_, tok := hs.seedUser("user@example.com", "userone", identity.RoleMember)

	for _, path := range []string{"/me/mfa/setup", "/me/mfa/enable", "/me/mfa/disable"} {
		w := hs.do(http.MethodPost, path, map[string]string{"code": "123456"}, bearer(tok))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
