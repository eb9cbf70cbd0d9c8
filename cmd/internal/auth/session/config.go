package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config controls access-token issuance.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string `mapstructure:"issuer"`

	// AccessTokenTTL is the lifetime of an access token.
	AccessTokenTTL time.Duration `mapstructure:"access_ttl"`

	// ClockSkew is tolerated when checking nbf/exp.
	ClockSkew time.Duration `mapstructure:"clock_skew"`

	// SecretKeyHex is the hex-encoded Ed25519 secret key.
	SecretKeyHex string `mapstructure:"secret_key_hex"`

	// CookieSecure marks the session cookie Secure.
	CookieSecure bool `mapstructure:"cookie_secure"`
}

// DefaultConfig returns development defaults; SecretKeyHex stays empty.
func DefaultConfig() Config {
	return Config{
		Issuer:         "bytehack",
		AccessTokenTTL: 12 * time.Hour,
		ClockSkew:      30 * time.Second,
		CookieSecure:   true,
	}
}

// Validate checks the invariants NewManager relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.AccessTokenTTL > 30*24*time.Hour {
		return ErrConfig
	}
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		return ErrConfig
	}
	if strings.TrimSpace(c.SecretKeyHex) == "" {
		return ErrConfig
	}
	return nil
}

// GenerateSecretKeyHex returns a fresh Ed25519 secret key for dev runs.
// Tokens signed with it do not survive a restart.
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}
