package middleware

import (
	"net/http"
	"strconv"

	"github.com/tjfontaine/socratic-gateway/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderLimitRequests     = "x-ratelimit-limit-requests"
	HeaderRemainingRequests = "x-ratelimit-remaining-requests"
	HeaderRetryAfter        = "Retry-After"
)

// SetRateLimitHeaders writes the limiter's verdict as normalized
// x-ratelimit-* headers. A rejected verdict also gets Retry-After.
func SetRateLimitHeaders(h http.Header, res ratelimit.Result) {
	if res.Limit > 0 {
		h.Set(HeaderLimitRequests, strconv.Itoa(res.Limit))
		h.Set(HeaderRemainingRequests, strconv.Itoa(res.Remaining))
	}
	if !res.Allowed {
		SetRetryAfter(h, res.RetryAfterSeconds())
	}
}

// SetRetryAfter sets Retry-After in whole seconds. Non-positive values are ignored.
func SetRetryAfter(h http.Header, seconds int) {
	if seconds > 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(seconds))
	}
}
