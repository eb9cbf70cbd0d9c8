// Package posttoken issues and redeems single-use post tokens.
//
// A token has the shape "timestamp:nonce:signature". The timestamp is unix
// milliseconds, the nonce is 16 random bytes in hex, and the signature is
// hex(HMAC-SHA256(secret, "userID:clientIP:timestamp:nonce")). The user and
// IP are not carried in the token; they come from the redeeming request, so a
// token lifted to another account or address fails its signature check.
//
// Each issued nonce is stored with its owner and expiry. Redemption flips the
// used flag under a row lock and is final.
package posttoken
