package mfa

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidInput   = errors.New("mfa: invalid input")
	ErrInvalidCode    = errors.New("mfa: invalid code")
	ErrNotEnrolled    = errors.New("mfa: not enrolled")
	ErrAlreadyEnabled = errors.New("mfa: already enabled")
)
