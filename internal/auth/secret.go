package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// AnonymousPrincipal is attributed to requests admitted in open mode.
const AnonymousPrincipal = "anonymous"

// StaticSecret authenticates a shared bearer secret.
type StaticSecret struct {
	digest     [32]byte
	principal  string
	configured bool
	allowOpen  bool
	warn       *warnOnce
}

// NewStaticSecret creates the shared-secret strategy. With an empty secret,
// every request is rejected unless allowOpen is set.
func NewStaticSecret(secret string, allowOpen bool, logger *slog.Logger) *StaticSecret {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StaticSecret{
		configured: secret != "",
		allowOpen:  allowOpen,
		warn:       &warnOnce{logger: logger},
	}
	if s.configured {
		s.digest = sha256.Sum256([]byte(secret))
		s.principal = "key_" + HashSecret(secret)[:12]
	}
	return s
}

// Authenticate implements Authenticator.
func (s *StaticSecret) Authenticate(r *http.Request) Verdict {
	if !s.configured {
		if s.allowOpen {
			s.warn.warn("open_mode", "API secret not configured, accepting unauthenticated requests",
				slog.String("condition", "open_mode"))
			return Authenticated(AnonymousPrincipal)
		}
		s.warn.warn("missing_secret", "API secret not configured, rejecting all requests",
			slog.String("condition", "missing_secret"))
		return Rejected(ReasonMissingCredential)
	}

	token, err := ExtractBearer(r)
	if err != nil {
		return Rejected(ReasonInvalidCredential)
	}

	// compare fixed-size digests so timing does not depend on token length
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(got[:], s.digest[:]) != 1 {
		return Rejected(ReasonInvalidCredential)
	}

	return Authenticated(s.principal)
}

var _ Authenticator = (*StaticSecret)(nil)
