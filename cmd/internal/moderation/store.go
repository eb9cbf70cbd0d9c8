package moderation

import (
	"context"
	"time"
)

// Store is the persistence boundary for bans and blacklist entries.
//
// The Active* lookups return rows whose active flag is set, expired or not;
// expiry is judged by the caller at read time.
type Store interface {
	ActiveUserBans(ctx context.Context, userID string) ([]Entry, error)
	ActiveIPEntries(ctx context.Context, ip string) ([]Entry, error)

	Insert(ctx context.Context, e Entry) error
	Deactivate(ctx context.Context, kind Kind, subject string, now time.Time) (int64, error)
}
