// Package auth resolves an inbound request to a principal or a structured
// failure reason. Two strategies sit behind one interface: a static shared
// bearer secret and an external identity provider.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Reason is why a request was not authenticated.
type Reason string

const (
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonAuthUnavailable   Reason = "auth_unavailable"
	ReasonMissingCredential Reason = "missing_credential"
	ReasonInvalidCredential Reason = "invalid_credential"
)

// Verdict is the outcome of authentication: a principal, or a reason.
type Verdict struct {
	Principal string
	Reason    Reason
}

// OK reports whether the request was authenticated.
func (v Verdict) OK() bool {
	return v.Reason == "" && v.Principal != ""
}

// Authenticated builds a successful verdict.
func Authenticated(principal string) Verdict {
	return Verdict{Principal: principal}
}

// Rejected builds a failed verdict.
func Rejected(reason Reason) Verdict {
	return Verdict{Reason: reason}
}

// Authenticator resolves a request to a Verdict. Implementations never
// panic and never return raw secrets.
type Authenticator interface {
	Authenticate(r *http.Request) Verdict
}

// Mode selects the strategy.
type Mode string

const (
	ModeSecret Mode = "secret"
	ModeJWT    Mode = "jwt"
)

// Config selects and configures the active strategy.
type Config struct {
	Mode Mode

	// secret mode
	Secret    string
	AllowOpen bool

	// jwt mode
	JWTSecret     string
	JWTIssuer     string
	SessionCookie string
}

// New returns the Authenticator selected by cfg.Mode.
func New(cfg Config, logger *slog.Logger) (Authenticator, error) {
	switch cfg.Mode {
	case ModeSecret, "":
		return NewStaticSecret(cfg.Secret, cfg.AllowOpen, logger), nil
	case ModeJWT:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth mode %q requires a JWT secret", cfg.Mode)
		}
		verifier := NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		return NewIdentityProvider(verifier, logger, WithSessionCookie(cfg.SessionCookie)), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// ExtractBearer extracts the token from an "Authorization: Bearer <token>" header.
func ExtractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}

// HashSecret returns the hex SHA-256 digest of a secret.
func HashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

// warnOnce logs each distinct condition the first time it is seen by the
// owning Authenticator. A duplicate log under a race is acceptable.
type warnOnce struct {
	logger *slog.Logger
	seen   sync.Map
}

func (w *warnOnce) warn(condition, msg string, attrs ...any) {
	if _, loaded := w.seen.LoadOrStore(condition, struct{}{}); loaded {
		return
	}
	w.logger.Warn(msg, attrs...)
}
