package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Verifier errors with a defined mapping. Any other error is treated as the
// identity provider being unavailable.
var (
	ErrNoSession    = errors.New("no active session")
	ErrInvalidToken = errors.New("invalid session token")
)

// Verifier is the external identity-verification call.
type Verifier interface {
	Verify(ctx context.Context, token string) (principal string, err error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (string, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// DefaultSessionCookie is the cookie the browser client sends its session in.
const DefaultSessionCookie = "__session"

// IdentityProviderOption configures an IdentityProvider.
type IdentityProviderOption func(*IdentityProvider)

// WithSessionCookie sets the cookie name consulted when no bearer token is sent.
func WithSessionCookie(name string) IdentityProviderOption {
	return func(p *IdentityProvider) {
		if name != "" {
			p.cookie = name
		}
	}
}

// IdentityProvider delegates to an external Verifier.
type IdentityProvider struct {
	verifier Verifier
	cookie   string
	logger   *slog.Logger
	warn     *warnOnce
}

// NewIdentityProvider creates the identity-provider strategy.
func NewIdentityProvider(verifier Verifier, logger *slog.Logger, opts ...IdentityProviderOption) *IdentityProvider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &IdentityProvider{
		verifier: verifier,
		cookie:   DefaultSessionCookie,
		logger:   logger,
		warn:     &warnOnce{logger: logger},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Authenticate implements Authenticator.
func (p *IdentityProvider) Authenticate(r *http.Request) Verdict {
	token, err := ExtractBearer(r)
	if err != nil {
		c, cerr := r.Cookie(p.cookie)
		if cerr != nil || c.Value == "" {
			return Rejected(ReasonMissingCredential)
		}
		token = c.Value
	}

	principal, err := p.verify(r.Context(), token)
	switch {
	case err == nil && principal != "":
		return Authenticated(principal)
	case err == nil, errors.Is(err, ErrNoSession):
		return Rejected(ReasonUnauthenticated)
	case errors.Is(err, ErrInvalidToken):
		return Rejected(ReasonInvalidCredential)
	default:
		p.warn.warn("auth_unavailable", "identity provider unavailable, rejecting requests until it recovers",
			slog.String("condition", "auth_unavailable"),
			slog.String("error", err.Error()))
		p.logger.Debug("auth_unavailable", slog.String("error", err.Error()))
		return Rejected(ReasonAuthUnavailable)
	}
}

// verify calls the verifier, converting a panic into an error.
func (p *IdentityProvider) verify(ctx context.Context, token string) (principal string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			principal = ""
			err = fmt.Errorf("identity provider panic: %v", rec)
		}
	}()
	return p.verifier.Verify(ctx, token)
}

var _ Authenticator = (*IdentityProvider)(nil)
