package jobs

import (
	"context"
	"time"
)

// TokenPurger drops expired post-token nonces.
type TokenPurger interface {
	Purge(ctx context.Context) (int64, error)
}

// BucketPurger drops rate-limit buckets whose window ended before a cutoff.
type BucketPurger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// PurgeTokens builds the nonce purge task.
func PurgeTokens(p TokenPurger) Func {
	return p.Purge
}

// PurgeBuckets builds the bucket purge task. Buckets are kept for grace past
// their window so a late request still sees its count.
func PurgeBuckets(p BucketPurger, grace time.Duration, now func() time.Time) Func {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (int64, error) {
		return p.Purge(ctx, now().Add(-grace))
	}
}
