// Package identity stores ByteHack accounts.
//
// A user is an authentication identity (email with a password hash, a
// Discord account, or both). A profile carries the forum-facing data:
// username, role and coin balance. Registration creates the two separately,
// so callers must delete an identity whose profile could not be created.
package identity
