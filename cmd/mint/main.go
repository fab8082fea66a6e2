// This command is only used for local testing: it writes a session signed
// with the development server's secret, so that the client can be exercised
// with tokens of any lifetime (including already expired ones) without going
// through login.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"

	"github.com/chinmina/opsdesk/internal/session"
)

type Config struct {
	Secret   string `env:"MINT_TOKEN_SECRET, default=opsdesk-development-signing-secret-2026"`
	Issuer   string `env:"MINT_ISSUER, default=opsdesk-devserver"`
	Audience string `env:"MINT_AUDIENCE, default=opsdesk"`
	Subject  string `env:"MINT_SUBJECT, default=mint-user"`
	Email    string `env:"MINT_EMAIL, default=admin@opsdesk.local"`

	// Negative lifetimes produce tokens that have already expired.
	AccessTTLSeconds  int `env:"MINT_ACCESS_TTL_SECS, default=900"`
	RefreshTTLSeconds int `env:"MINT_REFRESH_TTL_SECS, default=86400"`

	SessionDir string `env:"OPSDESK_SESSION_DIR"`

	// Print writes the session to stdout instead of the session file.
	Print bool `env:"MINT_PRINT, default=false"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	s, err := mintSession(cfg, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating session: %v\n", err)
		os.Exit(1)
	}

	if cfg.Print {
		out, _ := json.MarshalIndent(s, "", "  ")
		fmt.Printf("%s\n", out)
		return
	}

	path, err := writeSession(context.Background(), cfg.SessionDir, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error writing session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("session written to %s\n", path)
}

func mintSession(cfg Config, now time.Time) (session.Session, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(cfg.Secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return session.Session{}, err
	}

	access, err := createJWT(signer, cfg, "access", validity(now, cfg.AccessTTLSeconds))
	if err != nil {
		return session.Session{}, err
	}

	refresh, err := createJWT(signer, cfg, "refresh", validity(now, cfg.RefreshTTLSeconds))
	if err != nil {
		return session.Session{}, err
	}

	return session.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Email:        cfg.Email,
		UID:          cfg.Subject,
	}, nil
}

func createJWT(signer jose.Signer, cfg Config, tokenType string, claims jwt.Claims) (string, error) {
	claims.ID = uuid.NewString()
	claims.Subject = cfg.Subject
	claims.Issuer = cfg.Issuer
	claims.Audience = jwt.Audience{cfg.Audience}

	return jwt.Signed(signer).
		Claims(claims).
		Claims(map[string]any{
			"typ":   tokenType,
			"email": cfg.Email,
		}).
		Serialize()
}

func validity(now time.Time, ttlSeconds int) jwt.Claims {
	expiry := now.Add(time.Duration(ttlSeconds) * time.Second)

	return jwt.Claims{
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
		Expiry:    jwt.NewNumericDate(expiry),
	}
}

func writeSession(ctx context.Context, dir string, s session.Session) (string, error) {
	if dir == "" {
		var err error
		dir, err = session.DefaultDir()
		if err != nil {
			return "", err
		}
	}

	store, err := session.NewFile(dir, session.PlainCodec{})
	if err != nil {
		return "", err
	}

	if err := store.Set(ctx, s); err != nil {
		return "", err
	}

	return store.Path(), nil
}
