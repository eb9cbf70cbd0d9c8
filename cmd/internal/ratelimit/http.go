package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// SetHeaders writes X-RateLimit-* for any result and Retry-After for denials.
// Reset is a unix timestamp in seconds; Retry-After is whole seconds, rounded up.
func SetHeaders(h http.Header, res Result, now time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

	if res.Allowed {
		return
	}
	secs := int64(math.Ceil(res.RetryAfter(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	h.Set("Retry-After", strconv.FormatInt(secs, 10))
}
