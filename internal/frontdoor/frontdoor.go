// Package frontdoor holds the admission layer shared by the JSON API
// surfaces (conversations, models). The chat route runs its own stage
// sequence in package chat.
package frontdoor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/auth"
	"github.com/tjfontaine/socratic-gateway/internal/cors"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/ratelimit"
)

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal stored by Admission, or "".
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// Admission gates a route group: origin check, authentication and, when a
// limiter is set, a per-principal rate limit.
type Admission struct {
	Guard   *cors.Guard
	Auth    auth.Authenticator
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

// Middleware returns the admission middleware for the named route group.
// OPTIONS requests are answered as CORS preflight.
func (a *Admission) Middleware(route string) func(http.Handler) http.Handler {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			ip := ratelimit.ClientKey(r)

			if a.Guard != nil {
				if r.Method == http.MethodOptions {
					a.Guard.Preflight(w, r)
					return
				}
				if err := a.Guard.Check(r); err != nil {
					logger.Warn("csrf_rejected", slog.String("ip", ip), slog.String("origin", origin), slog.String("route", route))
					middleware.WriteError(w, r, domain.ErrPermission().WithCause(err))
					return
				}
				a.Guard.Apply(w, origin)
			}

			verdict := a.Auth.Authenticate(r)
			if !verdict.OK() {
				logger.Warn("auth_failed",
					slog.String("ip", ip),
					slog.String("route", route),
					slog.String("reason", string(verdict.Reason)),
				)
				middleware.WriteError(w, r, domain.ErrAuthentication().WithCause(fmt.Errorf("auth: %s", verdict.Reason)))
				return
			}
			middleware.AddLogField(r.Context(), "principal", verdict.Principal)

			if a.Limiter != nil {
				res := a.Limiter.Allow("user:" + verdict.Principal)
				middleware.SetRateLimitHeaders(w.Header(), res)
				if !res.Allowed {
					logger.Warn("rate_limit_exceeded", slog.String("principal", verdict.Principal), slog.String("route", route))
					middleware.WriteError(w, r, domain.ErrRateLimit(res.RetryAfterSeconds()))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), verdict.Principal)))
		})
	}
}

// List limits for the history endpoints.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// ListLimit parses a limit query value, falling back to DefaultListLimit
// and capping at MaxListLimit.
func ListLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return DefaultListLimit
	}
	return min(n, MaxListLimit)
}
