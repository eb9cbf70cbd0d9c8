package moderation

import (
	"net"
	"strings"
	"time"
)

// Kind says which table an entry came from.
type Kind string

const (
	KindUser Kind = "user"
	KindIP   Kind = "ip"
)

// Entry is one row of bans or ip_blacklist. Subject is the user ID or the IP.
type Entry struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Subject   string     `json:"subject"`
	Reason    string     `json:"reason"`
	IssuedBy  string     `json:"issued_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

// InForce reports whether the entry restricts access at now.
// Expiry wins over the stored flag.
func (e Entry) InForce(now time.Time) bool {
	if !e.Active {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Status is the resolved restriction for a caller.
type Status struct {
	Banned    bool       `json:"banned"`
	Kind      Kind       `json:"kind,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	IssuedBy  string     `json:"issued_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Permanent bool       `json:"permanent"`
}

func statusOf(e Entry) Status {
	return Status{
		Banned:    true,
		Kind:      e.Kind,
		Reason:    e.Reason,
		IssuedBy:  e.IssuedBy,
		ExpiresAt: e.ExpiresAt,
		Permanent: e.ExpiresAt == nil,
	}
}

// strongest picks the in-force entry that lasts longest; permanent beats any expiry.
func strongest(entries []Entry, now time.Time) (Entry, bool) {
	var (
		best  Entry
		found bool
	)
	for _, e := range entries {
		if !e.InForce(now) {
			continue
		}
		switch {
		case !found:
			best, found = e, true
		case best.ExpiresAt == nil:
		case e.ExpiresAt == nil || e.ExpiresAt.After(*best.ExpiresAt):
			best = e
		}
	}
	return best, found
}

// NormalizeIP canonicalizes an address so "::ffff:1.2.3.4" and "1.2.3.4" match.
// Unparseable input is returned trimmed and lower-cased.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	return strings.ToLower(raw)
}
