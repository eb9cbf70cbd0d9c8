// Package session issues the stateless access tokens that authenticate
// ByteHack API calls.
//
// Tokens are PASETO v4.public signed with an Ed25519 key. They carry only the
// user id; role, ban state and balance are always read fresh from storage.
package session
