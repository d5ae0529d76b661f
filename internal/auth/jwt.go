// Package auth verifies bearer credentials issued by the external identity
// provider and yields the stable account identifier embedded in them.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	AccountID string `json:"sub"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// ParseClaims verifies a bearer token and returns its claims. An expired or
// malformed token fails with the underlying jwt error.
func ParseClaims(tokenStr, secret string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
