package devserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/chinmina/opsdesk/internal/audit"
	"github.com/chinmina/opsdesk/internal/config"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
)

// accessClaims restricts resource routes to access tokens: a refresh token
// carries the same signature and audience.
type accessClaims struct {
	Type  string `json:"typ"`
	Email string `json:"email"`
}

func (c *accessClaims) Validate(context.Context) error {
	if c.Type != TokenTypeAccess {
		return fmt.Errorf("%w: %q", ErrWrongTokenType, c.Type)
	}
	return nil
}

// Authorizer returns middleware that accepts only requests bearing a valid
// access token issued by this server.
func Authorizer(cfg config.DevServerConfig) (func(http.Handler) http.Handler, error) {
	keyFunc := func(context.Context) (any, error) {
		return []byte(cfg.TokenSecret), nil
	}

	jwtValidator, err := validator.New(
		keyFunc,
		validator.HS256,
		cfg.Issuer,
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(5*time.Second),
		validator.WithCustomClaims(func() validator.CustomClaims {
			return &accessClaims{}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the validator: %w", err)
	}

	middleware := jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(authorizationErrorHandler),
	)

	return alice.New(middleware.CheckJWT, auditClaimsMiddleware).Then, nil
}

// ClaimsFromContext returns the claims set by the authorizer, or nil.
func ClaimsFromContext(ctx context.Context) *validator.ValidatedClaims {
	claims, _ := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	return claims
}

func authorizationErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	audit.Log(r.Context()).Error = err.Error()
	log.Ctx(r.Context()).Debug().Err(err).Msg("authorization failed")

	writeMessage(w, http.StatusUnauthorized, "Unauthorized")
}

func auditClaimsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := audit.Log(r.Context())
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			entry.Authorized = true
			entry.Subject = claims.RegisteredClaims.Subject
		}
		next.ServeHTTP(w, r)
	})
}
