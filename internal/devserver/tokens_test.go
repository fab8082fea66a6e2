package devserver

import (
	"testing"
	"time"

	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.DevServerConfig {
	return config.DevServerConfig{
		TokenSecret:            "devserver-test-secret-that-is-long-enough",
		Issuer:                 "opsdesk-devserver",
		Audience:               "opsdesk",
		AccessTokenTTLSeconds:  60,
		RefreshTokenTTLSeconds: 3600,
		LoginEmail:             "admin@opsdesk.local",
		LoginPassword:          "opsdesk",
	}
}

func TestIssuer_Pair(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer(testConfig())
	issuer.now = func() time.Time { return now }

	tokens, err := issuer.Pair("user-1", "admin@opsdesk.local")
	require.NoError(t, err)

	accessExpiry, err := token.Expiry(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), accessExpiry.UTC())

	refreshExpiry, err := token.Expiry(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), refreshExpiry.UTC())
}

func TestIssuer_VerifyRefresh(t *testing.T) {
	issuer := NewIssuer(testConfig())

	tokens, err := issuer.Pair("user-1", "admin@opsdesk.local")
	require.NoError(t, err)

	claims, err := issuer.VerifyRefresh(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "admin@opsdesk.local", claims.Email)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
}

func TestIssuer_VerifyRefreshRejects(t *testing.T) {
	issuer := NewIssuer(testConfig())

	access, err := issuer.Issue("user-1", "", TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	expired, err := issuer.Issue("user-1", "", TokenTypeRefresh, -time.Hour)
	require.NoError(t, err)

	otherCfg := testConfig()
	otherCfg.TokenSecret = "a-different-secret-for-another-server"
	foreign, err := NewIssuer(otherCfg).Issue("user-1", "", TokenTypeRefresh, time.Hour)
	require.NoError(t, err)

	otherAudience := testConfig()
	otherAudience.Audience = "someone-else"
	wrongAudience, err := NewIssuer(otherAudience).Issue("user-1", "", TokenTypeRefresh, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{name: "access token", token: access, message: "unexpected token type"},
		{name: "expired", token: expired, message: "expired"},
		{name: "wrong secret", token: foreign, message: "signature is invalid"},
		{name: "wrong audience", token: wrongAudience, message: "audience"},
		{name: "garbage", token: "not-a-token", message: "invalid refresh token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.VerifyRefresh(tt.token)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}
