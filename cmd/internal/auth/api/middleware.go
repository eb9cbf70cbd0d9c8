package authapi

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/session"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/modfeed"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
)

// caller is the authenticated, unbanned user behind a request.
type caller struct {
	UserID  string
	Profile identity.Profile
	IP      string
}

type authedFunc func(w http.ResponseWriter, r *http.Request, c caller)

var errNoCredentials = errors.New("authapi: no credentials")

const maxFingerprintLen = 128

// authenticate reads a bearer token first, then the session cookie.
func (h *Handler) authenticate(r *http.Request) (session.Claims, bool, error) {
	if tok := bearerToken(r); tok != "" {
		c, err := h.deps.Sessions.Verify(tok, h.now())
		return c, false, err
	}
	ck, err := r.Cookie(h.cfg.SessionCookie)
	if err != nil || strings.TrimSpace(ck.Value) == "" {
		return session.Claims{}, false, errNoCredentials
	}
	c, err := h.deps.Sessions.Verify(strings.TrimSpace(ck.Value), h.now())
	return c, true, err
}

func (h *Handler) member(fn authedFunc) http.Handler {
	return h.authed(fn, false)
}

func (h *Handler) staff(fn authedFunc) http.Handler {
	return h.authed(fn, true)
}

func (h *Handler) authed(fn authedFunc, staffOnly bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, viaCookie, err := h.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "login required")
			return
		}
		if viaCookie && r.Method != http.MethodGet && r.Method != http.MethodHead && !h.originAllowed(r) {
			h.log.Info("auth.origin.reject", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "origin_forbidden", "origin not allowed")
			return
		}

		ip := clientIP(r, h.cfg.TrustProxy)
		if !h.passGate(w, r, claims.UserID, ip) {
			return
		}

		prof, err := h.deps.Users.GetProfile(r.Context(), claims.UserID)
		if err != nil {
			if identity.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "account not found")
				return
			}
			h.log.Error("auth.profile.fail", "user_id", claims.UserID, "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		if staffOnly && !prof.Role.CanModerate() {
			writeError(w, http.StatusForbidden, "forbidden", "staff only")
			return
		}
		fn(w, r, caller{UserID: claims.UserID, Profile: prof, IP: ip})
	})
}

// passGate writes the ban response and returns false when the caller is restricted.
func (h *Handler) passGate(w http.ResponseWriter, r *http.Request, userID, ip string) bool {
	st, err := h.deps.Gate.Check(r.Context(), userID, ip)
	if err != nil {
		if errors.Is(err, moderation.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "ban_check_unavailable", "please retry later")
			return false
		}
		h.log.Error("auth.gate.fail", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return false
	}
	if !st.Banned {
		return true
	}
	h.audit(r, "auth.gate.banned", "user_id", userID, "ip", ip, "kind", st.Kind)
	writeBanned(w, r, st)
	return false
}

type bannedResponse struct {
	errorResponse
	Status   moderation.Status `json:"status"`
	Redirect string            `json:"redirect"`
}

// writeBanned redirects page loads to the status page and answers API calls with 403.
func writeBanned(w http.ResponseWriter, r *http.Request, st moderation.Status) {
	target := moderation.RedirectURL(st)
	if r.Method == http.MethodGet && !wantsJSON(r) {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusForbidden, bannedResponse{
		errorResponse: errorResponse{Error: "access restricted", Code: "banned"},
		Status:   st,
		Redirect: target,
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") || bearerToken(r) != ""
}

// AuthorizeFeed lets staff open the moderation feed.
func (h *Handler) AuthorizeFeed(r *http.Request) (string, error) {
	claims, _, err := h.authenticate(r)
	if err != nil {
		return "", modfeed.ErrUnauthenticated
	}
	prof, err := h.deps.Users.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		return "", modfeed.ErrUnauthenticated
	}
	if !prof.Role.CanModerate() {
		return claims.UserID, modfeed.ErrForbidden
	}
	return claims.UserID, nil
}

var _ modfeed.Authorizer = (*Handler)(nil)

// allow applies rule to key. Limiter faults let the request through.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, key string, rule ratelimit.Rule) bool {
	if h.deps.Limiter == nil {
		return true
	}
	res, err := h.deps.Limiter.AllowRule(r.Context(), key, rule)
	if err != nil {
		h.log.Error("auth.ratelimit.fail", "key", key, "err", err)
		return true
	}
	ratelimit.SetHeaders(w.Header(), res, h.now())
	if !res.Allowed {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return false
	}
	return true
}

func writeRateLimited(w http.ResponseWriter, res ratelimit.Result, now time.Time) {
	ratelimit.SetHeaders(w.Header(), res, now)
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

// deviceID returns the anonymous device id, minting the cookie on first sight.
func (h *Handler) deviceID(w http.ResponseWriter, r *http.Request) string {
	if ck, err := r.Cookie(h.cfg.DeviceCookie); err == nil {
		if id, err := uuid.Parse(ck.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.DeviceCookie,
		Value:    id,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		MaxAge:   int(deviceCookieMaxAge / time.Second),
		Expires:  h.now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// fingerprint returns the client fingerprint header, or "" when absent or
// not a plausible fingerprint.
func (h *Handler) fingerprint(r *http.Request) string {
	if h.cfg.FingerprintHeader == "" {
		return ""
	}
	fp := strings.TrimSpace(r.Header.Get(h.cfg.FingerprintHeader))
	if fp == "" || len(fp) > maxFingerprintLen {
		return ""
	}
	for _, c := range fp {
		if c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return fp
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// originAllowed accepts requests without an Origin header (non-browser clients).
func (h *Handler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if slices.Contains(h.cfg.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host)
}

func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(v[7:])
}

// clientIP returns the caller address, honoring proxy headers only when trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, p := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
				return moderation.NormalizeIP(ip.String())
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return moderation.NormalizeIP(ip.String())
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return moderation.NormalizeIP(ip.String())
	}
	return ""
}

// audit writes a security-relevant event to the log.
func (h *Handler) audit(r *http.Request, action string, attrs ...any) {
	attrs = append(attrs, "action", action, "path", r.URL.Path, "ua", strings.TrimSpace(r.UserAgent()))
	h.log.InfoContext(r.Context(), "audit", attrs...)
}
