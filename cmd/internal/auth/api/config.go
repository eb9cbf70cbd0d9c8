package authapi

import (
	"errors"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
)

// Config controls the HTTP surface.
type Config struct {
	TrustProxy     bool     `mapstructure:"trust_proxy"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	SessionCookie string `mapstructure:"session_cookie"`
	DeviceCookie  string `mapstructure:"device_cookie"`
	CookieDomain  string `mapstructure:"cookie_domain"`
	CookieSecure  bool   `mapstructure:"cookie_secure"`

	// PostLoginRedirect is where the Discord callback lands the browser.
	PostLoginRedirect string `mapstructure:"post_login_redirect"`

	// FingerprintHeader carries the client fingerprint used as the third
	// invite-check dedup key next to the IP and the device cookie.
	FingerprintHeader string `mapstructure:"fingerprint_header"`

	LoginRule    ratelimit.Rule `mapstructure:"login"`
	RegisterRule ratelimit.Rule `mapstructure:"register"`
	InviteRule   ratelimit.Rule `mapstructure:"invite_check"`
	FilesRule    ratelimit.Rule `mapstructure:"files"`
	MFARule      ratelimit.Rule `mapstructure:"mfa"`

	InviteTTL    time.Duration `mapstructure:"invite_ttl"`
	InviteMaxTTL time.Duration `mapstructure:"invite_max_ttl"`
}

const deviceCookieMaxAge = 10 * 365 * 24 * time.Hour

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		AllowedOrigins:    []string{"http://localhost:3000"},
		SessionCookie:     "bh_session",
		DeviceCookie:      "bh_device",
		CookieSecure:      true,
		PostLoginRedirect: "/",
		FingerprintHeader: "X-Client-Fingerprint",
		LoginRule:         ratelimit.Rule{Limit: 10, Window: 15 * time.Minute},
		RegisterRule:      ratelimit.Rule{Limit: 5, Window: time.Hour},
		InviteRule:        ratelimit.Rule{Limit: 20, Window: 10 * time.Minute},
		FilesRule:         ratelimit.Rule{Limit: 60, Window: time.Minute},
		MFARule:           ratelimit.Rule{Limit: 5, Window: 5 * time.Minute},
		InviteTTL:         7 * 24 * time.Hour,
		InviteMaxTTL:      90 * 24 * time.Hour,
	}
}

// Validate rejects configs the handlers cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return errors.New("authapi: max_body_bytes must be positive")
	case strings.TrimSpace(c.SessionCookie) == "", strings.TrimSpace(c.DeviceCookie) == "":
		return errors.New("authapi: cookie names are required")
	case c.InviteTTL < 0, c.InviteMaxTTL <= 0, c.InviteTTL > c.InviteMaxTTL:
		return errors.New("authapi: invite ttl out of range")
	}
	for _, r := range []ratelimit.Rule{c.LoginRule, c.RegisterRule, c.InviteRule, c.FilesRule, c.MFARule} {
		if r.Limit <= 0 || r.Window <= 0 {
			return errors.New("authapi: rate limit rules must be positive")
		}
	}
	return nil
}
