// Package cors implements the origin guard that fronts every browser-facing
// route: CSRF admission by Origin header, CORS response headers for
// allow-listed callers, and preflight handling.
package cors

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
)

const (
	defaultMethods = "POST, OPTIONS"
	allowHeaders = "Content-Type, Authorization, X-Requested-With"
	maxAge       = "86400"
)

// ErrOriginNotAllowed is returned by Check for a rejected origin.
var ErrOriginNotAllowed = errOriginNotAllowed{}

type errOriginNotAllowed struct{}

func (errOriginNotAllowed) Error() string { return "origin not allowed" }

// Guard decides whether a request's Origin is admitted. The allow-list can be
// swapped at runtime; an empty list means same-origin only.
type Guard struct {
	allowed *atomic.Pointer[map[string]struct{}]
	methods string
}

// New creates a guard for the given allow-list. It advertises POST and
// OPTIONS.
func New(origins []string) *Guard {
	g := &Guard{
		allowed: new(atomic.Pointer[map[string]struct{}]),
		methods: defaultMethods,
	}
	g.SetAllowed(origins)
	return g
}

// WithMethods returns a guard sharing g's allow-list that advertises methods
// plus OPTIONS. SetAllowed on either guard updates both.
func (g *Guard) WithMethods(methods ...string) *Guard {
	list := make([]string, 0, len(methods)+1)
	for _, m := range methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" && m != http.MethodOptions {
			list = append(list, m)
		}
	}
	list = append(list, http.MethodOptions)
	return &Guard{allowed: g.allowed, methods: strings.Join(list, ", ")}
}

// Parse splits a comma-separated origin list, trimming entries and dropping
// empty ones.
func Parse(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// SetAllowed replaces the allow-list.
func (g *Guard) SetAllowed(origins []string) {
	m := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		m[o] = struct{}{}
	}
	g.allowed.Store(&m)
}

// Allowed returns the number of configured origins.
func (g *Guard) Allowed() int {
	return len(*g.allowed.Load())
}

func (g *Guard) listed(origin string) bool {
	_, ok := (*g.allowed.Load())[origin]
	return ok
}

// Check admits or rejects r based on its Origin header.
func (g *Guard) Check(r *http.Request) error {
	origin := r.Header.Get("Origin")

	if g.Allowed() == 0 {
		if origin == "" {
			return nil
		}
	} else if origin != "" && g.listed(origin) {
		return nil
	}

	// same-origin callers are trusted regardless of the allow-list
	if origin != "" && origin == requestOrigin(r) {
		return nil
	}

	return ErrOriginNotAllowed
}

// Headers returns the CORS headers for origin, or nil when origin is not on
// the allow-list.
func (g *Guard) Headers(origin string) http.Header {
	if origin == "" || !g.listed(origin) {
		return nil
	}

	h := make(http.Header, 5)
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", g.methods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Max-Age", maxAge)
	h.Set("Vary", "Origin")
	return h
}

// Apply copies the CORS headers for origin onto w.
func (g *Guard) Apply(w http.ResponseWriter, origin string) {
	for k, v := range g.Headers(origin) {
		w.Header()[k] = v
	}
}

// Preflight answers an OPTIONS request: 204 with headers, or 403 with none.
func (g *Guard) Preflight(w http.ResponseWriter, r *http.Request) {
	h := g.Headers(r.Header.Get("Origin"))
	if h == nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	for k, v := range h {
		w.Header()[k] = v
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestOrigin reconstructs scheme://host[:port] for r. It returns "" when
// the host cannot be parsed, which never matches a real Origin.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	if host == "" {
		return ""
	}

	u, err := url.Parse(scheme + "://" + host)
	if err != nil || u.Host == "" || u.User != nil || (u.Path != "" && u.Path != "/") {
		return ""
	}

	hostname, port := strings.ToLower(u.Hostname()), u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(hostname, port)
	}
	if strings.Contains(hostname, ":") {
		return scheme + "://[" + hostname + "]"
	}
	return scheme + "://" + hostname
}
