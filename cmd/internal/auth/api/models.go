package authapi

import (
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/wallet"
)

type registerRequest struct {
	Email      string `json:"email" validate:"required,email,max=320"`
	Password   string `json:"password" validate:"required,min=8,max=256"`
	Username   string `json:"username" validate:"required,username"`
	InviteCode string `json:"invite_code" validate:"required,invitecode"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=256"`
	TOTPCode string `json:"totp_code" validate:"omitempty,len=6,numeric"`
}

type mfaCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type mfaStatusResponse struct {
	Enabled bool `json:"mfa_enabled"`
}

type inviteValidateRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type inviteCreateRequest struct {
	Code             string  `json:"code" validate:"omitempty,invitecode"`
	MaxUses          *int    `json:"max_uses" validate:"omitempty,min=1"`
	ExpiresInSeconds int64   `json:"expires_in_seconds" validate:"min=0"`
	Description      *string `json:"description" validate:"omitempty,max=500"`
}

type banRequest struct {
	UserID          string `json:"user_id" validate:"required,max=64"`
	Reason          string `json:"reason" validate:"required,max=500"`
	DurationSeconds int64  `json:"duration_seconds" validate:"min=0"`
}

type unbanRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

type blacklistRequest struct {
	IP              string `json:"ip" validate:"required,ip"`
	Reason          string `json:"reason" validate:"required,max=500"`
	DurationSeconds int64  `json:"duration_seconds" validate:"min=0"`
}

type unblacklistRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

type threadCreateRequest struct {
	Title     string `json:"title" validate:"required,max=200"`
	Body      string `json:"body" validate:"required,max=20000"`
	PostToken string `json:"post_token" validate:"required"`
}

type replyCreateRequest struct {
	Body      string `json:"body" validate:"required,max=20000"`
	PostToken string `json:"post_token" validate:"required"`
}

type reactionRequest struct {
	Kind string `json:"kind" validate:"required,max=16"`
}

type marketCreateRequest struct {
	Title   string   `json:"title" validate:"required,max=200"`
	Options []string `json:"options" validate:"required,min=2,max=16,dive,required,max=100"`
}

type stakeRequest struct {
	Option string `json:"option" validate:"required,max=100"`
	Amount int64  `json:"amount" validate:"required,min=1"`
}

type settleRequest struct {
	Winning string `json:"winning_option" validate:"required,max=100"`
}

type sessionResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type accountResponse struct {
	User    identity.User    `json:"user"`
	Profile identity.Profile `json:"profile"`
}

type authResponse struct {
	accountResponse
	Session sessionResponse `json:"session"`
}

type liftResponse struct {
	Lifted int64 `json:"lifted"`
}

type walletResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

type settleResponse struct {
	Market   wallet.Market    `json:"market"`
	ByStake  map[string]int64 `json:"payouts"`
	Dust     int64            `json:"dust"`
	Refunded bool             `json:"refunded"`
}
