package moderation

import (
	"net/url"
	"time"
)

// BannedPath is the status page banned callers are sent to.
const BannedPath = "/banned"

// RedirectURL builds the /banned link for a status. The query string is only a
// hint for rendering; the page re-checks the tables before showing anything.
func RedirectURL(st Status) string {
	q := url.Values{}
	q.Set("reason", st.Reason)
	q.Set("issued_by", st.IssuedBy)
	if st.ExpiresAt != nil {
		q.Set("expires_at", st.ExpiresAt.UTC().Format(time.RFC3339))
	} else {
		q.Set("expires_at", "never")
	}
	return BannedPath + "?" + q.Encode()
}
