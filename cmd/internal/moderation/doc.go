// Package moderation resolves user bans and IP blacklist entries and records
// moderation actions.
//
// An entry is in force when its active flag is set and its expiry, if any, is
// still in the future. Expiry is evaluated on every read; nothing sweeps
// expired rows. User bans are checked before the IP blacklist and win when both
// match.
package moderation
