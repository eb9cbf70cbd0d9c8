package invite

import (
	"context"
	"time"
)

// RedeemRecord is a normalized redemption request.
type RedeemRecord struct {
	RedemptionID string
	Code         string
	UserID       string
	Now          time.Time
}

// Store is the persistence boundary for the ledger.
//
// Redeem must be a guarded increment: it never raises uses past max_uses,
// even when callers race, and it writes the audit row in the same unit.
type Store interface {
	Create(ctx context.Context, inv Invite) (Invite, error)
	GetByCode(ctx context.Context, code string) (Invite, error)
	Redeem(ctx context.Context, in RedeemRecord) (Redemption, error)
	// Release undoes the latest redemption of code by userID.
	Release(ctx context.Context, code, userID string) error
}
