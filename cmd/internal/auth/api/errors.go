package authapi

import (
	"errors"
	"net/http"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/forum"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/posttoken"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/registration"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/storage"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/wallet"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/mfa"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/password"
)

func writeUnavailable(w http.ResponseWriter, feature string) {
	writeError(w, http.StatusServiceUnavailable, "unavailable", feature+" is not configured")
}

// fail maps a service error to a response. Unknown errors are logged and become 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		rejected   registration.InviteRejectedError
		blocked    registration.BlockedError
		tokenLimit posttoken.RateLimitedError
		forumLimit forum.RateLimitedError
	)

	switch {
	case errors.As(err, &blocked):
		writeBanned(w, r, blocked.Status)
	case errors.As(err, &rejected):
		writeError(w, http.StatusForbidden, "invite_rejected", rejected.Reason)
	case errors.As(err, &tokenLimit):
		writeRateLimited(w, tokenLimit.Result, h.now())
	case errors.As(err, &forumLimit):
		writeRateLimited(w, forumLimit.Result, h.now())
	case posttoken.IsInvalid(err):
		writeError(w, http.StatusForbidden, "invalid_post_token", "post token is invalid, expired or already used")

	case errors.Is(err, mfa.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_mfa_code", "authenticator code is invalid or already used")
	case errors.Is(err, mfa.ErrAlreadyEnabled):
		writeError(w, http.StatusConflict, "mfa_already_enabled", "two-factor authentication is already enabled")
	case errors.Is(err, mfa.ErrNotEnrolled):
		writeError(w, http.StatusConflict, "mfa_not_enrolled", "two-factor authentication is not set up")

	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", identity.ConflictField(err)+" already taken")
	case errors.Is(err, invite.ErrCodeTaken):
		writeError(w, http.StatusConflict, "conflict", "code already taken")
	case errors.Is(err, wallet.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "insufficient_funds", "not enough coins")
	case errors.Is(err, wallet.ErrMarketClosed):
		writeError(w, http.StatusConflict, "market_closed", "market is not open")

	case errors.Is(err, storage.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "file too large")
	case errors.Is(err, storage.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_type", "file type not allowed")
	case errors.Is(err, storage.ErrDisabled):
		writeUnavailable(w, "file storage")
	case errors.Is(err, moderation.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "ban_check_unavailable", "please retry later")

	case identity.IsNotFound(err),
		errors.Is(err, invite.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, forum.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")

	case errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong),
		errors.Is(err, password.ErrWeakPassword):
		writeFieldErrors(w, map[string]string{"password": err.Error()})

	case identity.IsInvalidInput(err),
		errors.Is(err, registration.ErrInvalidInput),
		errors.Is(err, invite.ErrInvalidInput),
		errors.Is(err, wallet.ErrInvalidInput),
		errors.Is(err, wallet.ErrUnknownOption),
		errors.Is(err, forum.ErrInvalidInput),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, moderation.ErrInvalidInput),
		errors.Is(err, mfa.ErrInvalidInput),
		errors.Is(err, posttoken.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
