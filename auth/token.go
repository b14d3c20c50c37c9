package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the subset of JWT claims the client cares about.
type TokenClaims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// InspectToken reads the claims of a JWT credential without verifying its
// signature; verification is the server's job. ok is false for opaque tokens.
func InspectToken(token string) (TokenClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, false
	}

	var out TokenClaims
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if role, ok := claims["role"].(string); ok {
		out.Role = role
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, true
}

// TokenExpired reports whether token is a JWT whose exp claim is not after now.
// Opaque tokens and tokens without exp never expire client-side.
func TokenExpired(token string, now time.Time) bool {
	claims, ok := InspectToken(token)
	if !ok || claims.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(claims.ExpiresAt)
}
