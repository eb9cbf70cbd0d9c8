package authapi

import (
	"net/http"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
)

// passMFA asks for a second factor when the account has one enabled. It
// writes the response and returns false when the login must stop.
func (h *Handler) passMFA(w http.ResponseWriter, r *http.Request, userID, code string) bool {
	if h.deps.MFA == nil {
		return true
	}
	on, err := h.deps.MFA.Enabled(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "auth.login.mfa", err)
		return false
	}
	if !on {
		return true
	}
	if code == "" {
		writeError(w, http.StatusUnauthorized, "mfa_required", "authenticator code required")
		return false
	}
	if !h.allow(w, r, ratelimit.Key("mfa_verify", userID), h.cfg.MFARule) {
		h.audit(r, "auth.login.mfa.rate_limited", "user_id", userID)
		return false
	}
	if err := h.deps.MFA.Verify(r.Context(), userID, code); err != nil {
		h.audit(r, "auth.login.failed", "user_id", userID, "reason", "bad_mfa_code")
		h.fail(w, r, "auth.login.mfa", err)
		return false
	}
	return true
}

func (h *Handler) handleMFAStatus(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.MFA == nil {
		writeUnavailable(w, "two-factor authentication")
		return
	}
	on, err := h.deps.MFA.Enabled(r.Context(), c.UserID)
	if err != nil {
		h.fail(w, r, "mfa.status", err)
		return
	}
	writeJSON(w, http.StatusOK, mfaStatusResponse{Enabled: on})
}

// handleMFASetup returns a new secret; it is not enforced until confirmed.
func (h *Handler) handleMFASetup(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.MFA == nil {
		writeUnavailable(w, "two-factor authentication")
		return
	}
	enr, err := h.deps.MFA.Setup(r.Context(), c.UserID, c.Profile.Username)
	if err != nil {
		h.fail(w, r, "mfa.setup", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, enr)
}

func (h *Handler) handleMFAEnable(w http.ResponseWriter, r *http.Request, c caller) {
	h.mfaCodeAction(w, r, c, "mfa.enable", true)
}

func (h *Handler) handleMFADisable(w http.ResponseWriter, r *http.Request, c caller) {
	h.mfaCodeAction(w, r, c, "mfa.disable", false)
}

func (h *Handler) mfaCodeAction(w http.ResponseWriter, r *http.Request, c caller, op string, enable bool) {
	if h.deps.MFA == nil {
		writeUnavailable(w, "two-factor authentication")
		return
	}
	var req mfaCodeRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if !h.allow(w, r, ratelimit.Key("mfa_verify", c.UserID), h.cfg.MFARule) {
		return
	}
	act := h.deps.MFA.Disable
	if enable {
		act = h.deps.MFA.Enable
	}
	if err := act(r.Context(), c.UserID, req.Code); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.audit(r, op, "user_id", c.UserID)
	writeJSON(w, http.StatusOK, mfaStatusResponse{Enabled: enable})
}
