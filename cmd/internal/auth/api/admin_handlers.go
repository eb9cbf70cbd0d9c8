package authapi

import (
	"net/http"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/wallet"
)

// decodeValid decodes and validates a body, writing the 400 itself on failure.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	if fields := h.check(dst); fields != nil {
		writeFieldErrors(w, fields)
		return false
	}
	return true
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Invites == nil {
		writeUnavailable(w, "invites")
		return
	}
	var req inviteCreateRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	ttl := h.cfg.InviteTTL
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	if ttl > h.cfg.InviteMaxTTL {
		ttl = h.cfg.InviteMaxTTL
	}

	inv, err := h.deps.Invites.Create(r.Context(), invite.CreateInput{
		Code:        req.Code,
		CreatedBy:   &c.UserID,
		MaxUses:     req.MaxUses,
		TTL:         ttl,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, "admin.invite.create", err)
		return
	}
	h.audit(r, "admin.invite.created", "user_id", c.UserID, "invite_id", inv.ID)
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleBan(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Moderator == nil {
		writeUnavailable(w, "moderation")
		return
	}
	var req banRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	e, err := h.deps.Moderator.BanUser(r.Context(), moderation.RestrictInput{
		Subject:  req.UserID,
		Reason:   req.Reason,
		IssuedBy: c.UserID,
		Duration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		h.fail(w, r, "admin.ban", err)
		return
	}
	h.audit(r, "admin.ban.created", "user_id", c.UserID, "subject", e.Subject)
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleUnban(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Moderator == nil {
		writeUnavailable(w, "moderation")
		return
	}
	var req unbanRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	n, err := h.deps.Moderator.UnbanUser(r.Context(), moderation.LiftInput{Subject: req.UserID, IssuedBy: c.UserID})
	if err != nil {
		h.fail(w, r, "admin.unban", err)
		return
	}
	h.audit(r, "admin.ban.lifted", "user_id", c.UserID, "subject", req.UserID, "lifted", n)
	writeJSON(w, http.StatusOK, liftResponse{Lifted: n})
}

func (h *Handler) handleBlacklist(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Moderator == nil {
		writeUnavailable(w, "moderation")
		return
	}
	var req blacklistRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	e, err := h.deps.Moderator.BlacklistIP(r.Context(), moderation.RestrictInput{
		Subject:  req.IP,
		Reason:   req.Reason,
		IssuedBy: c.UserID,
		Duration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		h.fail(w, r, "admin.blacklist", err)
		return
	}
	h.audit(r, "admin.ip.blacklisted", "user_id", c.UserID, "subject", e.Subject)
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleUnblacklist(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Moderator == nil {
		writeUnavailable(w, "moderation")
		return
	}
	var req unblacklistRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	n, err := h.deps.Moderator.UnblacklistIP(r.Context(), moderation.LiftInput{Subject: req.IP, IssuedBy: c.UserID})
	if err != nil {
		h.fail(w, r, "admin.unblacklist", err)
		return
	}
	h.audit(r, "admin.ip.unblacklisted", "user_id", c.UserID, "subject", req.IP, "lifted", n)
	writeJSON(w, http.StatusOK, liftResponse{Lifted: n})
}

func (h *Handler) handleMarketCreate(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Wallet == nil {
		writeUnavailable(w, "betting")
		return
	}
	var req marketCreateRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	m, err := h.deps.Wallet.CreateMarket(r.Context(), wallet.CreateMarketInput{
		Title:     req.Title,
		Options:   req.Options,
		CreatedBy: c.UserID,
	})
	if err != nil {
		h.fail(w, r, "admin.bet.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Wallet == nil {
		writeUnavailable(w, "betting")
		return
	}
	var req settleRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	m, p, err := h.deps.Wallet.Settle(r.Context(), r.PathValue("id"), req.Winning)
	if err != nil {
		h.fail(w, r, "admin.bet.settle", err)
		return
	}
	h.audit(r, "admin.bet.settled", "user_id", c.UserID, "market_id", m.ID, "dust", p.Dust, "refunded", p.Refunded)
	writeJSON(w, http.StatusOK, settleResponse{Market: m, ByStake: p.ByStake, Dust: p.Dust, Refunded: p.Refunded})
}
