package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownClient is the key used when no forwarding header identifies the caller.
const UnknownClient = "unknown"

// ClientKey derives the rate-limit and log key for r: the first entry of
// X-Forwarded-For, else X-Real-Ip, else UnknownClient.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-Ip")); real != "" {
		return real
	}
	return UnknownClient
}
