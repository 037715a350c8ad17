// Package jwttest signs admin bearer tokens in the shape the identity
// service issues them, for tests of the verifying side.
package jwttest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Token describes the claims to sign
type Token struct {
	Secret      string
	Issuer      string
	Subject     string
	Username    string
	Permissions []string
	// TTL defaults to a minute; a negative TTL yields an expired token.
	TTL time.Duration
}

// Sign returns tok signed with HS256
func Sign(t testing.TB, tok Token) string {
	t.Helper()
	ttl := tok.TTL
	if ttl == 0 {
		ttl = time.Minute
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"jti": uuid.New().String(),
		"iss": tok.Issuer,
		"aud": tok.Issuer,
		"exp": now.Add(ttl).Unix(),
		"nbf": now.Add(-time.Second).Unix(),
		"iat": now.Unix(),
	}
	if tok.Subject != "" {
		claims["sub"] = tok.Subject
	}
	if tok.Username != "" {
		claims["username"] = tok.Username
	}
	if len(tok.Permissions) > 0 {
		claims["permissions"] = tok.Permissions
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tok.Secret))
	require.NoError(t, err)
	return signed
}
