package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	// MinSecretBytes is the minimum accepted secret size for HMAC-SHA256.
	MinSecretBytes = 32

	signatureHexLen = sha256.Size * 2
)

// Sign returns hex(HMAC-SHA256(key, strings.Join(fields, ":"))).
func Sign(key []byte, fields ...string) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(strings.Join(fields, ":")))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares two hex signatures in constant time.
// Anything that is not a 64-char signature is rejected before comparing.
func Equal(a, b string) bool {
	if len(a) != signatureHexLen || len(b) != signatureHexLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SecretFromHex decodes a hex secret and enforces a minimum decoded length.
func SecretFromHex(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrSecretMissing
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, ErrSecretEncoding
	}
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrSecretTooShort
	}
	return b, nil
}

// RandomHex returns a cryptographically random hex string of 2*nBytes chars.
func RandomHex(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
