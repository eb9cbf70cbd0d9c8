// Package token provides the HMAC primitives behind ByteHack's one-time credentials.
//
// It is the single source of truth for how signed tokens are computed and compared:
//   - Signatures are HMAC-SHA256 over colon-joined fields, hex encoded (64 chars).
//   - Comparison is constant time and rejects malformed lengths up front.
//   - Secrets are configured as hex and must decode to at least MinSecretBytes.
package token
