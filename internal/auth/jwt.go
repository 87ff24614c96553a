package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// JWTVerifier verifies HS256 session tokens issued by an identity provider
// that shares a signing secret with this service. The subject claim is the
// principal.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier. An empty issuer skips the iss check.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// SignSession mints a session token for subject. It is used by the token
// command and tests.
func SignSession(secret, issuer, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	if issuer != "" {
		claims.Issuer = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

var _ Verifier = (*JWTVerifier)(nil)
