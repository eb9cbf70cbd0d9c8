// Package mfa enrolls and verifies time-based one-time passwords (RFC 6238).
//
// Secrets are generated with github.com/pquerna/otp and stored through the
// identity store. An enrollment only protects logins once the member has
// confirmed a first code. Each accepted time step is recorded, so a code
// cannot be used twice.
package mfa
