package invite

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"
)

const (
	maxCodeLen        = 64
	maxDescriptionLen = 512
	generatedCodeLen  = 10
)

// Invite is a row of the invite ledger.
type Invite struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	CreatedBy   *string    `json:"created_by,omitempty"`
	MaxUses     *int       `json:"max_uses,omitempty"`
	Uses        int        `json:"uses"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Description *string    `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// check applies the validation order after the code has been found.
func (inv Invite) check(now time.Time) error {
	if inv.ExpiresAt != nil && !now.Before(*inv.ExpiresAt) {
		return ErrExpired
	}
	if inv.MaxUses != nil && inv.Uses >= *inv.MaxUses {
		return ErrExhausted
	}
	return nil
}

// Redemption is the audit row appended for every successful redeem.
type Redemption struct {
	ID         string    `json:"id"`
	InviteID   string    `json:"invite_id"`
	Code       string    `json:"code"`
	UserID     string    `json:"user_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// Validation is the outcome of a read-only check.
type Validation struct {
	Valid  bool    `json:"valid"`
	Reason string  `json:"reason,omitempty"`
	Invite *Invite `json:"-"`
}

// NormalizeCode upper-cases and trims a code. It returns "" when the code
// cannot be a ledger code at all.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > maxCodeLen {
		return ""
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ""
		}
	}
	return code
}

// GenerateCode returns a random upper-case base32 code.
func GenerateCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	return s[:generatedCodeLen], nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
