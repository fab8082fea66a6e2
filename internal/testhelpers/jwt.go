package testhelpers

import (
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestSecret is the HMAC key used for tokens created by these helpers.
var TestSecret = []byte("opsdesk-test-signing-secret-0123456789")

// TokenClaims configures a token created by SignToken. A zero Expiry produces
// a token without an "exp" claim.
type TokenClaims struct {
	Subject  string
	Issuer   string
	Audience string
	Type     string
	Expiry   time.Time
}

// SignToken creates an HS256 JWT signed with TestSecret.
func SignToken(t *testing.T, claims TokenClaims) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: TestSecret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err, "failed to create signer")

	registered := josejwt.Claims{
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		IssuedAt: josejwt.NewNumericDate(time.Now()),
	}
	if claims.Audience != "" {
		registered.Audience = josejwt.Audience{claims.Audience}
	}
	if !claims.Expiry.IsZero() {
		registered.Expiry = josejwt.NewNumericDate(claims.Expiry)
	}

	builder := josejwt.Signed(signer).Claims(registered)
	if claims.Type != "" {
		builder = builder.Claims(map[string]any{"typ": claims.Type})
	}

	raw, err := builder.Serialize()
	require.NoError(t, err, "failed to sign JWT")

	return raw
}

// TokenExpiringAt creates a signed token whose only interesting claim is its
// expiry.
func TokenExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	return SignToken(t, TokenClaims{Subject: "user-1", Expiry: exp})
}

// ValidToken returns a token that expires an hour from now.
func ValidToken(t *testing.T) string {
	t.Helper()
	return TokenExpiringAt(t, time.Now().Add(time.Hour))
}

// ExpiredToken returns a token that expired an hour ago.
func ExpiredToken(t *testing.T) string {
	t.Helper()
	return TokenExpiringAt(t, time.Now().Add(-time.Hour))
}
