package ratelimit

import "errors"

var (
	// ErrInvalidInput is returned for an empty key or a non-positive limit, window or cost.
	ErrInvalidInput = errors.New("ratelimit: invalid input")

	// ErrNotFound is returned by stores when no bucket exists for a key.
	ErrNotFound = errors.New("ratelimit: bucket not found")
)
