// Package session persists the authenticated session of the current user.
//
// A session is a token pair plus the identity it was issued to. It is
// created at login, has its access token replaced whenever a refresh
// succeeds, and is removed on logout or when the session can no longer be
// refreshed. All access goes through a Store so the lifecycle is explicit
// and the storage can be swapped in tests.
package session

import (
	"context"
	"errors"
)

// StorageKey is the single key the session is stored under.
const StorageKey = "session"

var (
	ErrNoSession = errors.New("no session")

	// ErrCorrupt marks a stored session that can never be read back, as
	// opposed to a storage failure that may clear on retry.
	ErrCorrupt = errors.New("stored session is corrupt")
)

// Session is the persisted token pair and the identity it belongs to. The
// JSON field names are the persisted format.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Email        string `json:"email,omitempty"`
	UID          string `json:"uid,omitempty"`
}

// WithAccessToken returns a copy of the session carrying a new access token.
// The refresh token and identity are unchanged.
func (s Session) WithAccessToken(accessToken string) Session {
	s.AccessToken = accessToken
	return s
}

// Valid reports whether the session holds both tokens.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// Store gives access to the persisted session.
type Store interface {
	// Get returns the current session, or ErrNoSession if there is none.
	Get(ctx context.Context) (Session, error)

	// Set replaces the persisted session.
	Set(ctx context.Context, s Session) error

	// Clear removes the persisted session. Clearing an absent session is not
	// an error.
	Clear(ctx context.Context) error
}
