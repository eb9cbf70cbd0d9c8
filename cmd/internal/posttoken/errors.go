package posttoken

import (
	"errors"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
)

var (
	ErrInvalidInput     = errors.New("posttoken: invalid input")
	ErrMalformed        = errors.New("posttoken: malformed token")
	ErrInvalidSignature = errors.New("posttoken: invalid signature")
	ErrExpired          = errors.New("posttoken: token expired")
	ErrAlreadyUsed      = errors.New("posttoken: token already used")
	ErrContextMismatch  = errors.New("posttoken: token issued to another user or address")
	ErrUnknownNonce     = errors.New("posttoken: unknown token")
)

// RateLimitedError is returned by Issue when one of the issuance limiters denies.
type RateLimitedError struct {
	Scope  string
	Result ratelimit.Result
}

func (e RateLimitedError) Error() string {
	return "posttoken: issuance rate limited (" + e.Scope + ")"
}

// IsInvalid reports whether err is a rejection of the token itself rather than
// a backend failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrContextMismatch) ||
		errors.Is(err, ErrUnknownNonce)
}
