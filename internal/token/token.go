// Package token inspects bearer tokens held by the client. Tokens are never
// verified here: the client only needs the expiration claim to decide whether
// a refresh is required, and the server remains responsible for validation.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrMissingExpiry = errors.New("token has no expiration claim")

var parser = jwt.NewParser()

// Expiry returns the expiration time encoded in the token's "exp" claim.
func Expiry(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("token is empty")
	}

	claims := &jwt.RegisteredClaims{}
	_, _, err := parser.ParseUnverified(raw, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("token could not be decoded: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, ErrMissingExpiry
	}

	return claims.ExpiresAt.Time, nil
}

// Expired reports whether the token is unusable at now. Tokens that cannot be
// decoded, or that carry no expiry, are treated as expired.
func Expired(raw string, now time.Time) bool {
	exp, err := Expiry(raw)
	if err != nil {
		return true
	}

	return !exp.After(now)
}
