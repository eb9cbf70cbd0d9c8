package posttoken

import (
	"context"
	"time"
)

// Record is the persisted half of an issued token.
type Record struct {
	Nonce     string
	UserID    string
	IP        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// ConsumeInput identifies the redeeming request.
type ConsumeInput struct {
	Nonce  string
	UserID string
	IP     string
	Now    time.Time
}

// Store persists nonces.
//
// Consume must check and flip the used flag atomically: of two concurrent
// redemptions of the same nonce exactly one succeeds. It reports, in order,
// ErrUnknownNonce, ErrExpired, ErrAlreadyUsed and ErrContextMismatch.
type Store interface {
	Insert(ctx context.Context, r Record) error
	Consume(ctx context.Context, in ConsumeInput) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// checkConsumable applies the redemption rules to a loaded record.
func checkConsumable(r Record, in ConsumeInput) error {
	switch {
	case !in.Now.Before(r.ExpiresAt):
		return ErrExpired
	case r.Used:
		return ErrAlreadyUsed
	case r.UserID != in.UserID || r.IP != in.IP:
		return ErrContextMismatch
	default:
		return nil
	}
}
