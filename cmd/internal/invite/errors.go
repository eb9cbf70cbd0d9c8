package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invite: invalid input")
	ErrNotFound     = errors.New("invite: not found")
	ErrExpired      = errors.New("invite: expired")
	ErrExhausted    = errors.New("invite: max uses reached")
	ErrCodeTaken    = errors.New("invite: code already exists")
)

// User-facing rejection reasons, in check order.
const (
	ReasonInvalid   = "Invalid invite code"
	ReasonExpired   = "Invite code expired"
	ReasonExhausted = "Max uses reached"
)

// Reason maps a ledger rejection to its user-facing reason.
// It returns "" for errors that are not policy rejections.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
		return ReasonInvalid
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrExhausted):
		return ReasonExhausted
	default:
		return ""
	}
}

// IsRejection reports whether err is an expected policy outcome.
func IsRejection(err error) bool {
	return Reason(err) != ""
}
