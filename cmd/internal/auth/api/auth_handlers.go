package authapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/discord"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/registration"
)

const (
	oauthStateCookie  = "bh_oauth_state"
	oauthInviteCookie = "bh_oauth_invite"
	oauthCookieTTL    = 10 * time.Minute
	oauthCookiePath   = "/auth/discord"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registrar == nil {
		writeUnavailable(w, "registration")
		return
	}
	ip := clientIP(r, h.cfg.TrustProxy)
	if !h.allow(w, r, ratelimit.Key("auth_register", ip), h.cfg.RegisterRule) {
		h.audit(r, "auth.register.rate_limited", "ip", ip)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if fields := h.check(req); fields != nil {
		writeFieldErrors(w, fields)
		return
	}

	res, err := h.deps.Registrar.RegisterPassword(r.Context(), registration.PasswordInput{
		Email:      req.Email,
		Password:   req.Password,
		Username:   req.Username,
		InviteCode: req.InviteCode,
		IP:         ip,
	})
	if err != nil {
		h.audit(r, "auth.register.failed", "ip", ip, "err", err.Error())
		h.fail(w, r, "auth.register", err)
		return
	}
	h.audit(r, "auth.register.success", "user_id", res.User.ID, "ip", ip)
	h.respondSession(w, http.StatusCreated, res.User, res.Profile)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.cfg.TrustProxy)
	if !h.allow(w, r, ratelimit.Key("auth_login", ip), h.cfg.LoginRule) {
		h.audit(r, "auth.login.rate_limited", "ip", ip)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if fields := h.check(req); fields != nil {
		writeFieldErrors(w, fields)
		return
	}

	ctx := r.Context()
	ua, err := h.deps.Users.GetUserAuthByEmail(ctx, req.Email)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.fail(w, r, "auth.login", err)
			return
		}
		if h.dummyHash != "" {
			_, _ = h.deps.Passwords.Verify(h.dummyHash, req.Password)
		}
		h.audit(r, "auth.login.failed", "ip", ip, "reason", "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	ok := false
	if ua.PasswordHash != "" {
		ok, err = h.deps.Passwords.Verify(ua.PasswordHash, req.Password)
		if err != nil {
			h.log.Warn("auth.login.verify.fail", "user_id", ua.ID, "err", err)
		}
	}
	if !ok {
		h.audit(r, "auth.login.failed", "user_id", ua.ID, "ip", ip, "reason", "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	if !h.passGate(w, r, ua.ID, ip) {
		return
	}
	if !h.passMFA(w, r, ua.ID, req.TOTPCode) {
		return
	}
	prof, err := h.deps.Users.GetProfile(ctx, ua.ID)
	if err != nil {
		h.fail(w, r, "auth.login.profile", err)
		return
	}
	h.audit(r, "auth.login.success", "user_id", ua.ID, "ip", ip)
	h.respondSession(w, http.StatusOK, ua.User, prof)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.expireCookie(w, h.cfg.SessionCookie, "/")
	w.WriteHeader(http.StatusNoContent)
}

// respondSession issues an access token, sets the session cookie and writes the account.
func (h *Handler) respondSession(w http.ResponseWriter, status int, u identity.User, p identity.Profile) {
	tok, exp, err := h.deps.Sessions.Issue(u.ID, h.now())
	if err != nil {
		h.log.Error("auth.session.issue.fail", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.setSessionCookie(w, tok, exp)
	writeJSON(w, status, authResponse{
		accountResponse: accountResponse{User: u, Profile: p},
		Session:         sessionResponse{AccessToken: tok, ExpiresAt: exp},
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, c caller) {
	u, err := h.deps.Users.GetUser(r.Context(), c.UserID)
	if err != nil {
		h.fail(w, r, "auth.me", err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{User: u, Profile: c.Profile})
}

// handleBanned re-resolves the caller's status; the query string on the
// redirect is display-only and never read here.
func (h *Handler) handleBanned(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if claims, _, err := h.authenticate(r); err == nil {
		userID = claims.UserID
	}
	st, err := h.deps.Gate.Check(r.Context(), userID, clientIP(r, h.cfg.TrustProxy))
	if err != nil {
		h.fail(w, r, "auth.banned", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleInviteValidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Invites == nil {
		writeUnavailable(w, "invites")
		return
	}
	ip := clientIP(r, h.cfg.TrustProxy)
	device := h.deviceID(w, r)
	if !h.allow(w, r, ratelimit.Key("invite_check", ip), h.cfg.InviteRule) ||
		!h.allow(w, r, ratelimit.Key("invite_check_device", device), h.cfg.InviteRule) {
		return
	}
	if fp := h.fingerprint(r); fp != "" && !h.allow(w, r, ratelimit.Key("invite_check_fp", fp), h.cfg.InviteRule) {
		return
	}

	var req inviteValidateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if fields := h.check(req); fields != nil {
		writeFieldErrors(w, fields)
		return
	}
	v, err := h.deps.Invites.Validate(r.Context(), req.Code)
	if err != nil {
		h.fail(w, r, "invite.validate", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleDiscordLogin(w http.ResponseWriter, r *http.Request) {
	if h.deps.Discord == nil {
		writeUnavailable(w, "discord login")
		return
	}
	state, err := discord.NewState()
	if err != nil {
		h.log.Error("auth.discord.state.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.setShortCookie(w, oauthStateCookie, state)
	if code := strings.TrimSpace(r.URL.Query().Get("invite")); code != "" {
		h.setShortCookie(w, oauthInviteCookie, code)
	}
	http.Redirect(w, r, h.deps.Discord.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) handleDiscordCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.Discord == nil {
		writeUnavailable(w, "discord login")
		return
	}
	ip := clientIP(r, h.cfg.TrustProxy)
	if !h.allow(w, r, ratelimit.Key("auth_discord", ip), h.cfg.LoginRule) {
		return
	}

	q := r.URL.Query()
	ck, err := r.Cookie(oauthStateCookie)
	if err != nil || !sameToken(ck.Value, q.Get("state")) {
		writeError(w, http.StatusForbidden, "invalid_state", "login session expired, try again")
		return
	}
	h.expireCookie(w, oauthStateCookie, oauthCookiePath)
	inviteCode := ""
	if ck, err := r.Cookie(oauthInviteCookie); err == nil {
		inviteCode = ck.Value
		h.expireCookie(w, oauthInviteCookie, oauthCookiePath)
	}

	ctx := r.Context()
	du, err := h.deps.Discord.Exchange(ctx, q.Get("code"))
	if err != nil {
		h.log.Warn("auth.discord.exchange.fail", "err", err)
		writeError(w, http.StatusBadGateway, "discord_failed", "discord login failed")
		return
	}

	u, err := h.deps.Users.GetUserByDiscordID(ctx, du.ID)
	switch {
	case err == nil:
	case identity.IsNotFound(err):
		if inviteCode == "" || h.deps.Registrar == nil {
			writeError(w, http.StatusForbidden, "invite_required", "an invite code is required to sign up")
			return
		}
		res, err := h.registerDiscord(ctx, du, inviteCode, ip)
		if err != nil {
			h.fail(w, r, "auth.discord.register", err)
			return
		}
		h.audit(r, "auth.register.success", "user_id", res.User.ID, "ip", ip, "via", "discord")
		u = res.User
	default:
		h.fail(w, r, "auth.discord.lookup", err)
		return
	}

	if !h.passGate(w, r, u.ID, ip) {
		return
	}
	tok, exp, err := h.deps.Sessions.Issue(u.ID, h.now())
	if err != nil {
		h.log.Error("auth.session.issue.fail", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.setSessionCookie(w, tok, exp)
	h.audit(r, "auth.login.success", "user_id", u.ID, "ip", ip, "via", "discord")
	http.Redirect(w, r, h.cfg.PostLoginRedirect, http.StatusSeeOther)
}

// registerDiscord retries once with a suffixed username when the suggestion is taken.
func (h *Handler) registerDiscord(ctx context.Context, du discord.User, code, ip string) (registration.Result, error) {
	in := registration.DiscordInput{
		DiscordID:  du.ID,
		Email:      du.VerifiedEmail(),
		Username:   discordUsername(du),
		InviteCode: code,
		IP:         ip,
	}
	res, err := h.deps.Registrar.RegisterDiscord(ctx, in)
	if err == nil || identity.ConflictField(err) != "username" {
		return res, err
	}
	in.Username = withSuffix(in.Username, du.ID)
	return h.deps.Registrar.RegisterDiscord(ctx, in)
}

func discordUsername(du discord.User) string {
	if name := du.SuggestedUsername(); identity.ValidUsername(name) {
		return name
	}
	if identity.ValidUsername(du.Username) {
		return du.Username
	}
	return withSuffix("user", du.ID)
}

func withSuffix(base, discordID string) string {
	suffix := discordID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	if len(base) > 25 {
		base = base[:25]
	}
	return base + "_" + suffix
}

func (h *Handler) setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     oauthCookiePath,
		Domain:   h.cfg.CookieDomain,
		MaxAge:   int(oauthCookieTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func sameToken(a, b string) bool {
	if a == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
