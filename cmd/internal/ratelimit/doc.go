// Package ratelimit implements a fixed-window token bucket persisted per key.
//
// Buckets live in a shared Store (Postgres or Redis) so every instance sees the
// same counters. The read-modify-write is not linearizable: two instances racing
// on the same key can both pass and overshoot the limit by a small amount.
//
// Backend failures fail open. A limiter that cannot read or persist its bucket
// allows the request and logs the failure; callers still answer 5xx for their own
// backend failures.
package ratelimit
