package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/chinmina/opsdesk/internal/config"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var ErrWrongTokenType = errors.New("unexpected token type")

// Claims are the claims of tokens issued by the development server.
type Claims struct {
	jwt.RegisteredClaims
	Type  string `json:"typ"`
	Email string `json:"email,omitempty"`
}

// Tokens is a freshly issued access and refresh token pair.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(cfg config.DevServerConfig) *Issuer {
	return &Issuer{
		secret:     []byte(cfg.TokenSecret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTokenTTL(),
		refreshTTL: cfg.RefreshTokenTTL(),
		now:        time.Now,
	}
}

// Pair issues a new access and refresh token for the user.
func (i *Issuer) Pair(subject, email string) (Tokens, error) {
	access, err := i.Issue(subject, email, TokenTypeAccess, i.accessTTL)
	if err != nil {
		return Tokens{}, err
	}

	refresh, err := i.Issue(subject, email, TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// Issue signs a token of the given type valid for ttl. A negative ttl issues
// an already expired token.
func (i *Issuer) Issue(subject, email, tokenType string, ttl time.Duration) (string, error) {
	now := i.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:  tokenType,
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", tokenType, err)
	}

	return signed, nil
}

// VerifyRefresh checks the signature, lifetime and audience of a refresh
// token.
func (i *Issuer) VerifyRefresh(raw string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	if !claims.VerifyIssuer(i.issuer, true) {
		return nil, fmt.Errorf("invalid refresh token: unexpected issuer %q", claims.Issuer)
	}

	if !claims.VerifyAudience(i.audience, true) {
		return nil, fmt.Errorf("invalid refresh token: audience %v not accepted", claims.Audience)
	}

	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: %q", ErrWrongTokenType, claims.Type)
	}

	return claims, nil
}
