package moderation

import "errors"

var (
	ErrInvalidInput = errors.New("moderation: invalid input")

	// ErrUnavailable is returned by a fail-closed Gate when the backend cannot answer.
	ErrUnavailable = errors.New("moderation: ban status unavailable")
)
